package escalate

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scenecheck/internal/narrative/fusion"
	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/pkg/scene"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var expected = []scene.Entity{
	{ID: "gideon", Name: "Gideon"},
	{ID: "rowan", Name: "Rowan"},
}

// stubMatcher answers with fixed per-entity confidences.
type stubMatcher struct {
	name    string
	found   map[string]float64
	delay   time.Duration
	err     error
	explode bool

	mu    sync.Mutex
	calls int
}

func (s *stubMatcher) Name() string { return s.name }

func (s *stubMatcher) Validate(ctx context.Context, _ string, expected []scene.Entity, _ scene.EntityManifest) (*scene.ValidationResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.explode {
		panic("matcher exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	var recs []scene.MatchRecord
	for id, c := range s.found {
		recs = append(recs, scene.MatchRecord{EntityID: id, Confidence: c, Matcher: s.name})
	}
	return scene.NewResult(s.name, expected, recs, nil), nil
}

func (s *stubMatcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubAttempter replays scripted outcomes and records the variants used.
type stubAttempter struct {
	stubMatcher
	script []scene.Outcome

	variants []scene.PromptVariant
}

func (s *stubAttempter) Attempt(ctx context.Context, narrative string, expected []scene.Entity, m scene.EntityManifest, v scene.PromptVariant) scene.Outcome {
	s.mu.Lock()
	s.variants = append(s.variants, v)
	var out scene.Outcome
	if len(s.script) > 0 {
		out = s.script[0]
		s.script = s.script[1:]
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return scene.Outcome{Kind: scene.OutcomeRetryable, Err: ctx.Err()}
		}
	}
	if out.Kind == scene.OutcomeOK && out.Result == nil {
		res, err := s.stubMatcher.Validate(ctx, narrative, expected, m)
		return scene.Outcome{Result: res, Err: err}
	}
	return out
}

func (s *stubAttempter) Variants() []scene.PromptVariant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scene.PromptVariant(nil), s.variants...)
}

// sleepRecorder replaces the backoff sleep and records requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func tier(threshold float64, ms ...scene.Matcher) Tier {
	return Tier{Matchers: ms, Budget: time.Second, Threshold: threshold}
}

func newController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func run(t *testing.T, c *Controller) *scene.ValidationResult {
	t.Helper()
	res, err := c.Run(context.Background(), "Gideon raised his sword while the healer chanted.", expected, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return res
}

func TestState_Transitions(t *testing.T) {
	t.Parallel()

	want := []State{ExactChecked, DescriptorChecked, FuzzyChecked, SemanticChecked, Resolved, Resolved}
	s := NotEvaluated
	for i, w := range want {
		s = next(s)
		if s != w {
			t.Fatalf("step %d: next = %v, want %v", i, s, w)
		}
	}
	if NotEvaluated.String() != "not_evaluated" || Resolved.String() != "resolved" || State(42).String() != "unknown" {
		t.Error("unexpected State.String output")
	}
}

func TestRun_EscalatesUntilThreshold(t *testing.T) {
	t.Parallel()

	exact := &stubMatcher{name: "exact", found: map[string]float64{"gideon": 1}}
	desc := &stubMatcher{name: "descriptor", found: map[string]float64{"rowan": 0.85}}
	fuzzy := &stubMatcher{name: "fuzzy"}
	sem := &stubMatcher{name: "semantic"}

	c := newController(t,
		WithTier(ExactChecked, tier(0.8, exact)),
		WithTier(DescriptorChecked, tier(0.8, desc)),
		WithTier(FuzzyChecked, tier(0.8, fuzzy)),
		WithTier(SemanticChecked, tier(0.8, sem)),
	)
	res := run(t, c)

	if math.Abs(res.Confidence-0.925) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.925", res.Confidence)
	}
	if len(res.EntitiesFound) != 2 || len(res.EntitiesMissing) != 0 {
		t.Errorf("found = %v missing = %v", res.EntitiesFound, res.EntitiesMissing)
	}
	if res.Metadata.FinalState != "descriptor_checked" {
		t.Errorf("FinalState = %q", res.Metadata.FinalState)
	}
	if fuzzy.Calls() != 0 || sem.Calls() != 0 {
		t.Errorf("later tiers ran: fuzzy=%d semantic=%d", fuzzy.Calls(), sem.Calls())
	}
	if got := strings.Join(res.Metadata.ValidatorChain, ","); got != "exact,descriptor" {
		t.Errorf("ValidatorChain = %q", got)
	}
}

func TestRun_ParallelWithinTier(t *testing.T) {
	t.Parallel()

	a := &stubMatcher{name: "a", found: map[string]float64{"gideon": 1}, delay: 100 * time.Millisecond}
	b := &stubMatcher{name: "b", found: map[string]float64{"rowan": 1}, delay: 100 * time.Millisecond}
	c := newController(t, WithTier(ExactChecked, tier(0.8, a, b)))

	start := time.Now()
	res := run(t, c)
	if elapsed := time.Since(start); elapsed > 190*time.Millisecond {
		t.Errorf("tier took %v, matchers did not run concurrently", elapsed)
	}
	if res.Confidence != 1 {
		t.Errorf("Confidence = %v", res.Confidence)
	}
}

func TestRun_SemanticUnavailableWarning(t *testing.T) {
	t.Parallel()

	c := newController(t, WithTier(ExactChecked, tier(0.8, &stubMatcher{name: "exact"})))
	res := run(t, c)
	if !slicesContains(res.Warnings, "semantic tier unavailable") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
	if res.Metadata.FinalState != "exact_checked" {
		t.Errorf("FinalState = %q", res.Metadata.FinalState)
	}
}

func TestRun_TimeoutIsSoftFailure(t *testing.T) {
	t.Parallel()

	exact := &stubMatcher{name: "exact", found: map[string]float64{"gideon": 1}}
	slow := &stubMatcher{name: "fuzzy", delay: time.Second}
	c := newController(t,
		WithTier(ExactChecked, tier(0.8, exact)),
		WithTier(FuzzyChecked, Tier{Matchers: []scene.Matcher{slow}, Budget: 10 * time.Millisecond, Threshold: 0.8}),
	)
	res := run(t, c)

	if !res.Degraded {
		t.Error("Degraded = false after timeout")
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want pre-timeout 0.5", res.Confidence)
	}
	if !slicesContains(res.Warnings, "fuzzy validator timed out") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestRun_PanicIsSoftFailure(t *testing.T) {
	t.Parallel()

	c := newController(t, WithTier(ExactChecked, tier(0.8,
		&stubMatcher{name: "exact", found: map[string]float64{"gideon": 1, "rowan": 1}},
		&stubMatcher{name: "boom", explode: true},
	)))
	res := run(t, c)
	if !res.Degraded || res.Confidence != 1 {
		t.Errorf("result = %+v", res)
	}
	found := false
	for _, w := range res.Warnings {
		found = found || strings.Contains(w, "panic")
	}
	if !found {
		t.Errorf("Warnings = %v, want panic mention", res.Warnings)
	}
}

func TestRun_RetryableBackoff(t *testing.T) {
	t.Parallel()

	transient := scene.Outcome{Kind: scene.OutcomeRetryable, Err: errors.New("503")}
	sem := &stubAttempter{
		stubMatcher: stubMatcher{name: "semantic", found: map[string]float64{"gideon": 0.9, "rowan": 0.9}},
		script:      []scene.Outcome{transient, transient, {Kind: scene.OutcomeOK}},
	}
	sleeper := &sleepRecorder{}
	c := newController(t,
		WithTier(SemanticChecked, tier(0.8, sem)),
		WithRetry(2, time.Second),
		WithSleep(sleeper.Sleep),
	)
	res := run(t, c)

	if res.Degraded || !res.Found("rowan") {
		t.Errorf("result = %+v", res)
	}
	if len(sem.Variants()) != 3 {
		t.Errorf("attempts = %d, want 3", len(sem.Variants()))
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != time.Second || sleeper.delays[1] != 2*time.Second {
		t.Errorf("backoff delays = %v, want [1s 2s]", sleeper.delays)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	t.Parallel()

	transient := scene.Outcome{Kind: scene.OutcomeRetryable, Err: errors.New("503")}
	exact := &stubMatcher{name: "exact", found: map[string]float64{"gideon": 1}}
	sem := &stubAttempter{
		stubMatcher: stubMatcher{name: "semantic"},
		script:      []scene.Outcome{transient, transient, transient, {Kind: scene.OutcomeOK}},
	}
	c := newController(t,
		WithTier(ExactChecked, tier(0.8, exact)),
		WithTier(SemanticChecked, tier(0.8, sem)),
		WithRetry(2, time.Second),
		WithSleep((&sleepRecorder{}).Sleep),
	)
	res := run(t, c)

	if n := len(sem.Variants()); n != 3 {
		t.Errorf("attempts = %d, want 1 + 2 retries", n)
	}
	if !res.Degraded || res.Confidence != 0.5 {
		t.Errorf("Degraded = %v Confidence = %v, want degraded at pre-semantic 0.5", res.Degraded, res.Confidence)
	}
	if res.Metadata.FinalState != "semantic_checked" {
		t.Errorf("FinalState = %q", res.Metadata.FinalState)
	}
}

func TestRun_MalformedRetriesSimpleOnce(t *testing.T) {
	t.Parallel()

	malformed := scene.Outcome{Kind: scene.OutcomeMalformed, Err: errors.New("not json")}
	sem := &stubAttempter{
		stubMatcher: stubMatcher{name: "semantic"},
		script:      []scene.Outcome{malformed, malformed, {Kind: scene.OutcomeOK}},
	}
	sleeper := &sleepRecorder{}
	c := newController(t, WithTier(SemanticChecked, tier(0.8, sem)), WithSleep(sleeper.Sleep))
	res := run(t, c)

	v := sem.Variants()
	if len(v) != 2 || v[0] != scene.VariantStandard || v[1] != scene.VariantSimple {
		t.Errorf("variants = %v, want [standard simple]", v)
	}
	if !res.Degraded {
		t.Error("Degraded = false after second malformed answer")
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("malformed retry slept: %v", sleeper.delays)
	}
}

func TestRun_FatalNotRetried(t *testing.T) {
	t.Parallel()

	sem := &stubAttempter{
		stubMatcher: stubMatcher{name: "semantic"},
		script:      []scene.Outcome{{Kind: scene.OutcomeFatal, Err: errors.New("circuit open")}},
	}
	c := newController(t, WithTier(SemanticChecked, tier(0.8, sem)))
	res := run(t, c)
	if len(sem.Variants()) != 1 || !res.Degraded {
		t.Errorf("attempts = %d degraded = %v", len(sem.Variants()), res.Degraded)
	}
}

func TestRun_AttemptBudgetTimeout(t *testing.T) {
	t.Parallel()

	exact := &stubMatcher{name: "exact", found: map[string]float64{"rowan": 1}}
	sem := &stubAttempter{stubMatcher: stubMatcher{name: "semantic", delay: time.Second}}
	c := newController(t,
		WithTier(ExactChecked, tier(0.8, exact)),
		WithTier(SemanticChecked, Tier{Matchers: []scene.Matcher{sem}, Budget: 5 * time.Millisecond, Threshold: 0.8}),
		WithRetry(1, time.Millisecond),
		WithSleep((&sleepRecorder{}).Sleep),
	)
	res := run(t, c)

	if len(sem.Variants()) != 2 {
		t.Errorf("attempts = %d, want 2", len(sem.Variants()))
	}
	if !res.Degraded || res.Confidence != 0.5 {
		t.Errorf("result = %+v", res)
	}
	if !slicesContains(res.Warnings, "semantic validator timed out") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestRun_InvalidInput(t *testing.T) {
	t.Parallel()

	c := newController(t)
	_, err := c.Run(context.Background(), "", expected, scene.EntityManifest{})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("error = %v", err)
	}
	_, err = c.Run(context.Background(), "x", []scene.Entity{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}}, scene.EntityManifest{})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("duplicate ids error = %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
	}{
		{"strategy", []Option{WithFusion(fusion.Config{Strategy: "loudest"})}},
		{"threshold", []Option{WithTier(ExactChecked, Tier{Threshold: 1.5})}},
		{"nan threshold", []Option{WithTier(ExactChecked, Tier{Threshold: math.NaN()})}},
		{"state", []Option{WithTier(Resolved, Tier{})}},
		{"budget", []Option{WithTier(FuzzyChecked, Tier{Matchers: []scene.Matcher{&stubMatcher{}}})}},
		{"retries", []Option{WithRetry(-1, time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(append(tt.opts, WithMetrics(testMetrics(t)))...)
			if !errors.Is(err, scene.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	c := &Controller{backoffBase: time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for n, w := range want {
		if got := c.backoff(n); got != w {
			t.Errorf("backoff(%d) = %v, want %v", n, got, w)
		}
	}
}

func slicesContains(ws []string, s string) bool {
	for _, w := range ws {
		if w == s {
			return true
		}
	}
	return false
}
