// Package escalate runs matchers tier by tier, cheapest first, and stops as
// soon as the fused confidence clears the current tier's threshold.
//
// Within a tier every matcher runs concurrently under its own budget. A
// matcher that overruns, panics, or fails is a soft failure: it is excluded
// from the vote, reported as a warning, and marks the result degraded. Only
// invalid input is returned as an error.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scenecheck/internal/narrative/fusion"
	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Defaults for tiers and retries.
const (
	DefaultThreshold      = 0.8
	DefaultLexicalBudget  = 5 * time.Millisecond
	DefaultFuzzyBudget    = 50 * time.Millisecond
	DefaultSemanticBudget = 15 * time.Second
	DefaultMaxRetries     = 2
	DefaultBackoffBase    = time.Second
	maxBackoff            = 30 * time.Second
)

// Tier is one escalation step.
type Tier struct {
	// Matchers run concurrently. An empty tier is skipped.
	Matchers []scene.Matcher

	// Budget bounds each matcher invocation. For an [scene.Attempter] it
	// bounds every attempt separately.
	Budget time.Duration

	// Threshold is the fused confidence at or above which escalation stops.
	Threshold float64
}

// Controller drives the escalation state machine. It holds no per-call state
// and is safe for concurrent use.
type Controller struct {
	tiers       map[State]Tier
	fusion      fusion.Config
	maxRetries  int
	backoffBase time.Duration
	sleep       func(context.Context, time.Duration) error
	metrics     *observe.Metrics
}

// Option configures a [Controller].
type Option func(*Controller)

// WithTier sets the tier run to reach state s, one of ExactChecked,
// DescriptorChecked, FuzzyChecked or SemanticChecked.
func WithTier(s State, t Tier) Option {
	return func(c *Controller) { c.tiers[s] = t }
}

// WithFusion sets the fusion strategy and weights.
func WithFusion(cfg fusion.Config) Option {
	return func(c *Controller) { c.fusion = cfg }
}

// WithRetry sets how often a retryable failure is re-attempted and the base
// of the exponential backoff between attempts.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(c *Controller) {
		c.maxRetries = maxRetries
		c.backoffBase = base
	}
}

// WithSleep replaces the backoff sleep. Tests use it to avoid real waits.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithMetrics records matcher outcomes and retries to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller and validates its configuration. Errors wrap
// [scene.ErrInvalidConfig].
func New(opts ...Option) (*Controller, error) {
	c := &Controller{
		tiers:       make(map[State]Tier),
		fusion:      fusion.DefaultConfig(),
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) validate() error {
	errs := []error{c.fusion.Validate()}
	for s, t := range c.tiers {
		if !slices.Contains(tierStates, s) {
			errs = append(errs, fmt.Errorf("%w: %s is not a tier state", scene.ErrInvalidConfig, s))
		}
		if math.IsNaN(t.Threshold) || t.Threshold < 0 || t.Threshold > 1 {
			errs = append(errs, fmt.Errorf("%w: %s threshold %v outside [0, 1]", scene.ErrInvalidConfig, s, t.Threshold))
		}
		if t.Budget <= 0 && len(t.Matchers) > 0 {
			errs = append(errs, fmt.Errorf("%w: %s budget must be positive", scene.ErrInvalidConfig, s))
		}
	}
	if c.maxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: max_retries must be >= 0", scene.ErrInvalidConfig))
	}
	if c.backoffBase < 0 {
		errs = append(errs, fmt.Errorf("%w: backoff base must be >= 0", scene.ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Run validates narrative against expected. The returned result always
// satisfies the [scene.Finalize] invariants; Metadata.FinalState names the
// last tier that ran.
func (c *Controller) Run(ctx context.Context, narrative string, expected []scene.Entity, manifest scene.EntityManifest) (*scene.ValidationResult, error) {
	if err := scene.CheckInput(narrative, expected); err != nil {
		return nil, fmt.Errorf("escalate: %w", err)
	}

	var (
		state    = NotEvaluated
		last     = NotEvaluated
		outcomes []fusion.Outcome
		notes    []string
		running  *scene.ValidationResult
	)
	for state = next(state); state != Resolved; state = next(state) {
		tier := c.tiers[state]
		if len(tier.Matchers) == 0 {
			if state == SemanticChecked {
				notes = append(notes, "semantic tier unavailable")
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			notes = append(notes, fmt.Sprintf("validation cancelled before %s tier: %v", state, err))
			break
		}

		tctx, span := observe.StartSpan(ctx, observe.SpanTier,
			attribute.String("tier", state.String()),
			attribute.Int("tier.matchers", len(tier.Matchers)),
		)
		outcomes = append(outcomes, c.runTier(tctx, tier, narrative, expected, manifest)...)
		running = fusion.Fuse(expected, outcomes, c.fusion)
		span.SetAttributes(attribute.Float64("tier.confidence", running.Confidence))
		span.End()
		last = state
		slog.Debug("escalation tier done", "state", state, "confidence", running.Confidence, "threshold", tier.Threshold)

		if running.Confidence >= tier.Threshold {
			break
		}
	}

	if running == nil {
		running = fusion.Fuse(expected, nil, c.fusion)
	}
	running.Warnings = scene.DedupeWarnings(append(running.Warnings, notes...))
	running.Metadata.FinalState = last.String()
	return scene.Finalize(running, expected), nil
}

// runTier fans the tier's matchers out and returns their outcomes in matcher
// order. Failures never abort the group; only ctx does.
func (c *Controller) runTier(ctx context.Context, tier Tier, narrative string, expected []scene.Entity, manifest scene.EntityManifest) []fusion.Outcome {
	outs := make([]fusion.Outcome, len(tier.Matchers))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range tier.Matchers {
		g.Go(func() error {
			start := time.Now()
			outs[i] = c.invoke(gctx, m, tier.Budget, narrative, expected, manifest)
			c.metrics.RecordMatcher(ctx, m.Name(), outcomeLabel(outs[i]), time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

func outcomeLabel(o fusion.Outcome) string {
	switch {
	case errors.Is(o.Err, scene.ErrValidatorTimeout):
		return "timeout"
	case o.Err != nil:
		return "crash"
	case o.Result == nil || o.Result.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}

// invoke runs one matcher, with the retry policy for attempters.
func (c *Controller) invoke(ctx context.Context, m scene.Matcher, budget time.Duration, narrative string, expected []scene.Entity, manifest scene.EntityManifest) fusion.Outcome {
	out := fusion.Outcome{Matcher: m.Name()}
	if a, ok := m.(scene.Attempter); ok {
		out.Result, out.Err = c.attemptWithRetry(ctx, a, budget, narrative, expected, manifest)
		return out
	}
	out.Result, out.Err = callWithBudget(ctx, budget, func(ctx context.Context) (*scene.ValidationResult, error) {
		return m.Validate(ctx, narrative, expected, manifest)
	})
	return out
}

// attemptWithRetry applies the retry policy: retryable failures are retried
// up to maxRetries times with exponential backoff, a malformed answer is
// retried once with the simple prompt, fatal failures stop immediately.
func (c *Controller) attemptWithRetry(ctx context.Context, a scene.Attempter, budget time.Duration, narrative string, expected []scene.Entity, manifest scene.EntityManifest) (*scene.ValidationResult, error) {
	var (
		variant    = scene.VariantStandard
		retries    int
		simpleUsed bool
		lastErr    error
	)
	for {
		out := c.attemptOnce(ctx, a, budget, narrative, expected, manifest, variant)
		switch out.Kind {
		case scene.OutcomeOK:
			return out.Result, nil
		case scene.OutcomeFatal:
			return nil, fmt.Errorf("%w: %s: %w", scene.ErrValidatorCrash, a.Name(), out.Err)
		case scene.OutcomeMalformed:
			lastErr = out.Err
			if simpleUsed {
				return nil, fmt.Errorf("%w: %s: %w", scene.ErrValidatorCrash, a.Name(), lastErr)
			}
			simpleUsed = true
			variant = scene.VariantSimple
			c.metrics.RecordRetry(ctx, a.Name(), out.Kind.String())
			continue
		default:
			lastErr = out.Err
		}

		if retries >= c.maxRetries || ctx.Err() != nil {
			break
		}
		delay := c.backoff(retries)
		retries++
		slog.Debug("retrying matcher", "matcher", a.Name(), "attempt", retries+1, "delay", delay, "err", lastErr)
		c.metrics.RecordRetry(ctx, a.Name(), out.Kind.String())
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s: %w", scene.ErrValidatorTimeout, a.Name(), lastErr)
	}
	return nil, fmt.Errorf("%w: %s: %w", scene.ErrValidatorCrash, a.Name(), lastErr)
}

func (c *Controller) attemptOnce(ctx context.Context, a scene.Attempter, budget time.Duration, narrative string, expected []scene.Entity, manifest scene.EntityManifest, variant scene.PromptVariant) (out scene.Outcome) {
	res, err := callWithBudget(ctx, budget, func(ctx context.Context) (*scene.ValidationResult, error) {
		o := a.Attempt(ctx, narrative, expected, manifest, variant)
		if o.Kind != scene.OutcomeOK {
			return nil, &attemptError{kind: o.Kind, err: o.Err}
		}
		return o.Result, nil
	})
	if err == nil {
		return scene.Outcome{Kind: scene.OutcomeOK, Result: res}
	}
	var ae *attemptError
	if errors.As(err, &ae) {
		return scene.Outcome{Kind: ae.kind, Err: ae.err}
	}
	if errors.Is(err, scene.ErrValidatorTimeout) {
		return scene.Outcome{Kind: scene.OutcomeRetryable, Err: context.DeadlineExceeded}
	}
	return scene.Outcome{Kind: scene.OutcomeFatal, Err: err}
}

// attemptError carries a non-OK outcome through callWithBudget.
type attemptError struct {
	kind scene.OutcomeKind
	err  error
}

func (e *attemptError) Error() string { return e.kind.String() + ": " + fmt.Sprint(e.err) }
func (e *attemptError) Unwrap() error { return e.err }

// backoff returns base·2^n capped at maxBackoff.
func (c *Controller) backoff(n int) time.Duration {
	d := c.backoffBase
	for range n {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return min(d, maxBackoff)
}

// callWithBudget runs fn under a budget-bound context. A call that does not
// return in time is abandoned and reported as [scene.ErrValidatorTimeout];
// a panic is reported as [scene.ErrValidatorCrash].
func callWithBudget(ctx context.Context, budget time.Duration, fn func(context.Context) (*scene.ValidationResult, error)) (*scene.ValidationResult, error) {
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		res *scene.ValidationResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", scene.ErrValidatorCrash, r)}
			}
		}()
		res, err := fn(cctx)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.res, nil
		}
		var ae *attemptError
		if errors.As(r.err, &ae) || scene.IsSoftFailure(r.err) {
			return nil, r.err
		}
		if errors.Is(r.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", scene.ErrValidatorTimeout, r.err)
		}
		return nil, fmt.Errorf("%w: %w", scene.ErrValidatorCrash, r.err)
	case <-cctx.Done():
		return nil, fmt.Errorf("%w: budget %v exceeded", scene.ErrValidatorTimeout, budget)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
