// Package descriptor matches entities referenced by an alternate description
// ("the healer", "the old man") instead of their name.
//
// Entities with explicit descriptors are matched only on those descriptors;
// the built-in [RoleTable] is consulted only when an entity has none. When a
// matched phrase belongs to more than one expected entity, every owner
// becomes a candidate and a warning is emitted.
package descriptor

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Name is the matcher name reported in validator chains and metrics.
const Name = "descriptor"

// DefaultConfidence is assigned to descriptor matches.
const DefaultConfidence = 0.85

// Option configures a [Matcher].
type Option func(*Matcher)

// WithConfidence overrides the confidence assigned to descriptor matches.
func WithConfidence(c float64) Option {
	return func(m *Matcher) { m.confidence = scene.Clamp01(c) }
}

// WithRoleTable replaces the built-in role table.
func WithRoleTable(t RoleTable) Option {
	return func(m *Matcher) { m.roles = t }
}

// Matcher finds entities referenced by descriptor.
type Matcher struct {
	confidence float64
	roles      RoleTable
}

var _ scene.Matcher = (*Matcher)(nil)

// New returns a descriptor matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		confidence: DefaultConfidence,
		roles:      DefaultRoles,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements [scene.Matcher].
func (*Matcher) Name() string { return Name }

// owners groups entities by the normalised descriptor phrase that refers to
// them, preserving first-seen order of phrases.
type owners struct {
	order []string
	ids   map[string][]string
}

func (o *owners) add(phrase, id string) {
	key := strings.Join(wordmatch.StripArticle(wordmatch.Words(phrase)), " ")
	if key == "" {
		return
	}
	if _, ok := o.ids[key]; !ok {
		o.order = append(o.order, key)
	}
	for _, existing := range o.ids[key] {
		if existing == id {
			return
		}
	}
	o.ids[key] = append(o.ids[key], id)
}

// Validate implements [scene.Matcher].
func (m *Matcher) Validate(ctx context.Context, narrative string, expected []scene.Entity, _ scene.EntityManifest) (*scene.ValidationResult, error) {
	if err := scene.CheckInput(narrative, expected); err != nil {
		return nil, fmt.Errorf("descriptor: %w", err)
	}

	own := &owners{ids: make(map[string][]string)}
	for _, e := range expected {
		for _, p := range m.roles.phrasesFor(e) {
			own.add(p, e.ID)
		}
	}

	tokens := wordmatch.Tokenize(narrative)
	var (
		records  []scene.MatchRecord
		warnings []string
	)
	for _, phrase := range own.order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("descriptor: %w", err)
		}
		spans := wordmatch.Find(tokens, phrase)
		if len(spans) == 0 {
			continue
		}
		ids := own.ids[phrase]
		conf := m.confidence
		if len(ids) > 1 {
			conf /= float64(len(ids))
			warnings = append(warnings, fmt.Sprintf("ambiguous descriptor %q matches entities %v", phrase, ids))
		}
		for _, sp := range spans {
			for _, id := range ids {
				span := sp
				records = append(records, scene.MatchRecord{
					EntityID:   id,
					MatchType:  scene.MatchDescriptor,
					Confidence: conf,
					Span:       &span,
					Matcher:    Name,
					Term:       narrative[sp.Start:sp.End],
				})
			}
		}
	}
	return scene.NewResult(Name, expected, records, warnings), nil
}

// Phrases returns the normalised descriptor phrases (article stripped) that
// refer to e, using the same table lookup as [Matcher.Validate].
func (m *Matcher) Phrases(e scene.Entity) []string {
	phrases := m.roles.phrasesFor(e)
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if key := strings.Join(wordmatch.StripArticle(wordmatch.Words(p)), " "); key != "" {
			out = append(out, key)
		}
	}
	return out
}
