// Package semantic implements the most expensive validator tier: an LLM is
// asked which expected entities the narrative refers to and must answer with
// a strict JSON object.
//
// [Matcher.Attempt] performs exactly one request and classifies the outcome;
// the escalation controller decides whether to retry. [Matcher.Validate] is
// the self-contained form used outside the controller: it tries the standard
// prompt, falls back to the simple prompt once on a malformed answer, and
// degrades instead of failing.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/scenecheck/internal/resilience"
	"github.com/MrWong99/scenecheck/pkg/provider/llm"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Name is the matcher name reported in validator chains and metrics.
const Name = "semantic"

const (
	defaultTemperature = 0.0
	defaultMaxTokens   = 256
)

// Matcher asks an LLM to judge entity presence.
type Matcher struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

var _ scene.Attempter = (*Matcher)(nil)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithTemperature sets the sampling temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(m *Matcher) { m.temperature = t }
}

// WithMaxTokens caps the length of the model's answer.
func WithMaxTokens(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

// New returns a semantic matcher backed by p. p is typically a
// [resilience.LLMFallback].
func New(p llm.Provider, opts ...Option) *Matcher {
	m := &Matcher{
		provider:    p,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements [scene.Matcher].
func (*Matcher) Name() string { return Name }

// Validate implements [scene.Matcher]. Only invalid input is returned as an
// error; every backend problem yields a degraded result.
func (m *Matcher) Validate(ctx context.Context, narrative string, expected []scene.Entity, manifest scene.EntityManifest) (*scene.ValidationResult, error) {
	if err := scene.CheckInput(narrative, expected); err != nil {
		return nil, fmt.Errorf("semantic: %w", err)
	}

	out := m.Attempt(ctx, narrative, expected, manifest, scene.VariantStandard)
	if out.Kind == scene.OutcomeMalformed {
		slog.Debug("semantic: malformed answer, retrying with simple prompt", "err", out.Err)
		out = m.Attempt(ctx, narrative, expected, manifest, scene.VariantSimple)
	}
	if out.Kind == scene.OutcomeOK {
		return out.Result, nil
	}
	if errors.Is(out.Err, scene.ErrInvalidInput) {
		return nil, out.Err
	}
	return scene.DegradedResult(Name, expected, fmt.Sprintf("semantic validation unavailable: %v", out.Err)), nil
}

// Attempt implements [scene.Attempter].
func (m *Matcher) Attempt(ctx context.Context, narrative string, expected []scene.Entity, _ scene.EntityManifest, variant scene.PromptVariant) scene.Outcome {
	if err := scene.CheckInput(narrative, expected); err != nil {
		return scene.Outcome{Kind: scene.OutcomeFatal, Err: fmt.Errorf("semantic: %w", err)}
	}
	if m.provider == nil {
		return scene.Outcome{Kind: scene.OutcomeFatal, Err: errors.New("semantic: no provider configured")}
	}

	system, user, ids := buildPrompt(narrative, expected, variant)
	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature:  m.temperature,
		MaxTokens:    m.maxTokens,
		JSONMode:     m.provider.Capabilities().SupportsJSONMode,
	})
	if err != nil {
		return scene.Outcome{Kind: classify(err), Err: fmt.Errorf("semantic: %w", err)}
	}
	if resp == nil {
		return scene.Outcome{Kind: scene.OutcomeMalformed, Err: fmt.Errorf("semantic: %w: nil response", errMalformed)}
	}

	parsed, err := parseResponse(resp.Content)
	if err != nil {
		return scene.Outcome{Kind: scene.OutcomeMalformed, Err: fmt.Errorf("semantic: %w", err)}
	}
	slog.Debug("semantic verdict", "variant", variant, "present", *parsed.EntitiesPresent,
		"confidence", *parsed.Confidence, "reasoning", parsed.Reasoning)

	return scene.Outcome{Kind: scene.OutcomeOK, Result: toResult(parsed, expected, ids)}
}

// classify maps a provider error to an outcome kind. Deadlines are transient;
// an open breaker or a permanent provider failure will not improve on retry.
func classify(err error) scene.OutcomeKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return scene.OutcomeRetryable
	case errors.Is(err, llm.ErrPermanent), errors.Is(err, resilience.ErrCircuitOpen):
		return scene.OutcomeFatal
	}
	return scene.OutcomeRetryable
}

// toResult converts a parsed answer into a result. Ids the model invented are
// reported as warnings; a display name is accepted in place of an id.
func toResult(r response, expected []scene.Entity, ids map[string]string) *scene.ValidationResult {
	byName := make(map[string]string, len(expected))
	for _, e := range expected {
		byName[strings.ToLower(e.Name)] = e.ID
	}

	conf := scene.Clamp01(*r.Confidence)
	var (
		records  []scene.MatchRecord
		warnings []string
		seen     = make(map[string]bool)
	)
	for _, raw := range *r.EntitiesPresent {
		key := strings.TrimSpace(raw)
		id, ok := ids[key]
		if !ok {
			id, ok = byName[strings.ToLower(key)]
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("semantic validator reported unknown entity %q", raw))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		records = append(records, scene.MatchRecord{
			EntityID:   id,
			MatchType:  scene.MatchSemantic,
			Confidence: conf,
			Matcher:    Name,
		})
	}
	return scene.NewResult(Name, expected, records, warnings)
}
