package narrative_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/scenecheck/internal/entity"
	"github.com/MrWong99/scenecheck/internal/narrative"
	"github.com/MrWong99/scenecheck/internal/narrative/cache"
	"github.com/MrWong99/scenecheck/internal/narrative/fusion"
	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/pkg/provider/llm"
	"github.com/MrWong99/scenecheck/pkg/provider/llm/mock"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

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

// testConfig widens the lexical budgets so slow CI machines do not trip
// them.
func testConfig() narrative.Config {
	cfg := narrative.DefaultConfig()
	cfg.Budgets = narrative.Budgets{Exact: time.Second, Descriptor: time.Second, Fuzzy: time.Second}
	return cfg
}

func noSleep(context.Context, time.Duration) error { return nil }

func newEngine(t *testing.T, cfg narrative.Config, opts ...narrative.Option) *narrative.Engine {
	t.Helper()
	opts = append([]narrative.Option{narrative.WithMetrics(testMetrics(t)), narrative.WithSleep(noSleep)}, opts...)
	e, err := narrative.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

var (
	gideon = scene.Entity{ID: "gideon", Name: "Gideon", Type: scene.EntityPlayerCharacter, Gender: scene.GenderMale}
	rowan  = scene.Entity{ID: "rowan", Name: "Rowan", Type: scene.EntityNPC, Descriptors: []string{"healer"}}
)

func hasWarning(ws []string, sub string) bool {
	return slices.ContainsFunc(ws, func(w string) bool { return strings.Contains(w, sub) })
}

func TestEngine_ScenarioA_NameAndDescriptor(t *testing.T) {
	t.Parallel()

	e := newEngine(t, testConfig())
	res, err := e.Validate(context.Background(), "Gideon raised his sword while the healer chanted.",
		[]scene.Entity{gideon, rowan}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !slices.Equal(res.EntitiesFound, []string{"gideon", "rowan"}) || len(res.EntitiesMissing) != 0 {
		t.Errorf("found = %v, missing = %v", res.EntitiesFound, res.EntitiesMissing)
	}
	if res.Confidence < 0.8 {
		t.Errorf("Confidence = %v, want >= 0.8", res.Confidence)
	}
	if res.Metadata.FinalState != "descriptor_checked" {
		t.Errorf("FinalState = %q, want descriptor_checked", res.Metadata.FinalState)
	}
	if !slices.Equal(res.Metadata.ValidatorChain, []string{"exact", "descriptor"}) {
		t.Errorf("ValidatorChain = %v", res.Metadata.ValidatorChain)
	}
}

func TestEngine_ScenarioB_IndefiniteReference(t *testing.T) {
	t.Parallel()

	e := newEngine(t, testConfig())
	res, err := e.Validate(context.Background(), "Someone moved in the shadows.",
		[]scene.Entity{gideon, rowan}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(res.EntitiesFound) != 0 || !slices.Equal(res.EntitiesMissing, []string{"gideon", "rowan"}) {
		t.Errorf("found = %v, missing = %v", res.EntitiesFound, res.EntitiesMissing)
	}
	if res.Confidence >= 0.3 {
		t.Errorf("Confidence = %v, want < 0.3", res.Confidence)
	}
	if !hasWarning(res.Warnings, "ambiguous reference") {
		t.Errorf("Warnings = %v, want an ambiguous reference warning", res.Warnings)
	}
	if !hasWarning(res.Warnings, "semantic tier unavailable") {
		t.Errorf("Warnings = %v, want semantic tier unavailable", res.Warnings)
	}
	if res.Metadata.FinalState != "fuzzy_checked" {
		t.Errorf("FinalState = %q, want fuzzy_checked", res.Metadata.FinalState)
	}
}

func TestEngine_ScenarioC_SemanticTimeoutDegrades(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	p := &mock.Provider{Delay: time.Second}
	e := newEngine(t, cfg, narrative.WithLLM(p))

	res, err := e.Validate(context.Background(), "Gideon waited by the door.",
		[]scene.Entity{gideon, rowan}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate returned error %v, want degraded result", err)
	}
	if !res.Degraded || len(res.Warnings) == 0 {
		t.Errorf("Degraded = %v, Warnings = %v", res.Degraded, res.Warnings)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want the pre-semantic 0.5", res.Confidence)
	}
	if got := len(p.Calls()); got != 3 {
		t.Errorf("semantic calls = %d, want 1 + 2 retries", got)
	}
	if !slices.Equal(res.EntitiesFound, []string{"gideon"}) {
		t.Errorf("EntitiesFound = %v", res.EntitiesFound)
	}
	if res.Metadata.FinalState != "semantic_checked" {
		t.Errorf("FinalState = %q", res.Metadata.FinalState)
	}
}

func TestEngine_ScenarioD_SharedDescriptor(t *testing.T) {
	t.Parallel()

	marcus := scene.Entity{ID: "marcus", Name: "Marcus", Type: scene.EntityNPC, Descriptors: []string{"the soldier"}}
	tiberius := scene.Entity{ID: "tiberius", Name: "Tiberius", Type: scene.EntityNPC, Descriptors: []string{"the soldier"}}

	e := newEngine(t, testConfig())
	res, err := e.Validate(context.Background(), "The soldier stood guard at the gate.",
		[]scene.Entity{marcus, tiberius}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, id := range []string{"marcus", "tiberius"} {
		if len(res.RecordsFor(id)) == 0 {
			t.Errorf("no match record for %s: %+v", id, res.MatchRecords)
		}
	}
	if !hasWarning(res.Warnings, "ambiguous descriptor") {
		t.Errorf("Warnings = %v, want an ambiguous descriptor warning", res.Warnings)
	}
	if len(res.EntitiesFound) == 1 {
		t.Errorf("fusion picked a single candidate: %v", res.EntitiesFound)
	}
}

func TestEngine_SemanticResolves(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"entities_present": ["gideon"], "confidence": 0.9, "reasoning": "the grey stranger is Gideon"}`,
	}}
	e := newEngine(t, testConfig(), narrative.WithLLM(p))
	if !e.SemanticEnabled() {
		t.Fatal("SemanticEnabled() = false")
	}

	res, err := e.Validate(context.Background(), "The stranger in grey nodded.", []scene.Entity{gideon}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Found("gideon") || res.Degraded {
		t.Errorf("result = %+v", res)
	}
	if res.Metadata.FinalState != "semantic_checked" {
		t.Errorf("FinalState = %q", res.Metadata.FinalState)
	}
	recs := res.RecordsFor("gideon")
	if len(recs) == 0 || recs[len(recs)-1].MatchType != scene.MatchSemantic {
		t.Errorf("records = %+v", recs)
	}
}

func TestEngine_WarmCacheIdempotent(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	c := cache.New(cache.NewMemory(0), cache.WithMetrics(m))
	e := newEngine(t, testConfig(), narrative.WithCache(c, 0))

	ctx := context.Background()
	text := "Gideon raised his sword while the healer chanted."
	first, err := e.Validate(ctx, text, []scene.Entity{gideon, rowan}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	second, err := e.Validate(ctx, text, []scene.Entity{rowan, gideon}, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("second Validate: %v", err)
	}

	if first.Metadata.Cached || !second.Metadata.Cached {
		t.Errorf("Cached = %v then %v, want false then true", first.Metadata.Cached, second.Metadata.Cached)
	}
	if !slices.Equal(first.EntitiesFound, second.EntitiesFound) ||
		!slices.Equal(first.EntitiesMissing, second.EntitiesMissing) ||
		first.Confidence != second.Confidence ||
		!reflect.DeepEqual(first.MatchRecords, second.MatchRecords) {
		t.Errorf("warm result differs:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestEngine_CacheKeepsCase(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.NewMemory(0), cache.WithMetrics(testMetrics(t)))
	e := newEngine(t, testConfig(), narrative.WithCache(c, 0))
	ctx := context.Background()
	expected := []scene.Entity{gideon}

	upper, err := e.Validate(ctx, "Gid-- raised a sword.", expected, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !upper.Found("gideon") {
		t.Fatalf("capitalised truncation not matched: %+v", upper)
	}

	lower, err := e.Validate(ctx, "gid-- raised a sword.", expected, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if lower.Metadata.Cached {
		t.Error("narratives differing in case shared a cache entry")
	}
	if lower.Found("gideon") || lower.Confidence != 0 {
		t.Errorf("lower-case result = found %v, confidence %v; want the uncached verdict", lower.EntitiesFound, lower.Confidence)
	}
}

func TestEngine_DegradedResultNotCached(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 0
	p := &mock.Provider{
		Script: []mock.Reply{{Err: errors.New("upstream unavailable")}},
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"entities_present": ["gideon", "rowan"], "confidence": 0.9, "reasoning": "both present"}`,
		},
	}
	c := cache.New(cache.NewMemory(0), cache.WithMetrics(testMetrics(t)))
	e := newEngine(t, cfg, narrative.WithLLM(p), narrative.WithCache(c, 0))

	ctx := context.Background()
	expected := []scene.Entity{gideon, rowan}
	text := "Gideon waited by the door."

	first, err := e.Validate(ctx, text, expected, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if !first.Degraded {
		t.Fatalf("first result not degraded: %+v", first)
	}

	second, err := e.Validate(ctx, text, expected, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("second Validate: %v", err)
	}
	if second.Metadata.Cached || second.Degraded {
		t.Errorf("second result = cached %v, degraded %v; want a fresh healthy verdict", second.Metadata.Cached, second.Degraded)
	}
	if got := len(p.Calls()); got != 2 {
		t.Errorf("semantic calls = %d, want 2", got)
	}

	third, err := e.Validate(ctx, text, expected, scene.EntityManifest{})
	if err != nil {
		t.Fatalf("third Validate: %v", err)
	}
	if !third.Metadata.Cached {
		t.Error("healthy verdict was not cached")
	}
}

func TestEngine_CacheSeparatesConfigs(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.NewMemory(0), cache.WithMetrics(testMetrics(t)))
	e := newEngine(t, testConfig(), narrative.WithCache(c, 0))

	ctx := context.Background()
	req := narrative.Request{Narrative: "Gideon nods.", ExpectedEntities: []scene.Entity{gideon}}
	if _, err := e.ValidateRequest(ctx, req); err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	strategy := fusion.Majority
	req.Config = &narrative.RequestConfig{CombinationStrategy: &strategy}
	res, err := e.ValidateRequest(ctx, req)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if res.Metadata.Cached {
		t.Error("result computed under another strategy was served from cache")
	}
	if res.Metadata.Strategy != string(fusion.Majority) {
		t.Errorf("Strategy = %q", res.Metadata.Strategy)
	}
}

func TestEngine_ConcurrentSharedComputation(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Delay: 50 * time.Millisecond,
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"entities_present": ["rowan"], "confidence": 0.8, "reasoning": "x"}`,
		},
	}
	c := cache.New(cache.NewMemory(0), cache.WithMetrics(testMetrics(t)))
	e := newEngine(t, testConfig(), narrative.WithLLM(p), narrative.WithCache(c, 0))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Validate(context.Background(), "A cloaked figure waited.", []scene.Entity{rowan}, scene.EntityManifest{}); err != nil {
				t.Errorf("Validate: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(p.Calls()); got != 1 {
		t.Errorf("semantic calls = %d, want 1", got)
	}
}

func TestEngine_InvalidInput(t *testing.T) {
	t.Parallel()

	e := newEngine(t, testConfig())
	tests := []struct {
		name      string
		narrative string
		expected  []scene.Entity
	}{
		{"empty narrative", "   ", []scene.Entity{gideon}},
		{"no entities", "Gideon waits.", nil},
		{"duplicate ids", "Gideon waits.", []scene.Entity{gideon, gideon}},
		{"empty name", "Gideon waits.", []scene.Entity{{ID: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Validate(context.Background(), tt.narrative, tt.expected, scene.EntityManifest{})
			if !errors.Is(err, scene.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEngine_RequestConfigErrors(t *testing.T) {
	t.Parallel()

	e := newEngine(t, testConfig())
	bad := fusion.Strategy("coin_flip")
	threshold := 1.5
	timeout := int64(-1)
	tests := []struct {
		name string
		cfg  *narrative.RequestConfig
	}{
		{"unknown strategy", &narrative.RequestConfig{CombinationStrategy: &bad}},
		{"threshold above one", &narrative.RequestConfig{FuzzyThreshold: &threshold}},
		{"negative timeout", &narrative.RequestConfig{TimeoutMS: &timeout}},
		{"negative weight", &narrative.RequestConfig{ValidatorWeights: map[string]float64{"exact": -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.ValidateRequest(context.Background(), narrative.Request{
				Narrative:        "Gideon waits.",
				ExpectedEntities: []scene.Entity{gideon},
				Config:           tt.cfg,
			})
			if !errors.Is(err, scene.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestEngine_ValidateRequestFillsFromManifest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entity.NewMemStore()
	if _, err := store.Put(ctx, scene.EntityManifest{Location: "Flagon", Entities: []scene.Entity{gideon, rowan}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e := newEngine(t, testConfig(), narrative.WithSupplier(store))

	res, err := e.ValidateRequest(ctx, narrative.Request{
		Narrative:        "The healer hummed.",
		ExpectedEntities: []scene.Entity{{ID: "rowan"}},
		Location:         "flagon",
	})
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if !res.Found("rowan") {
		t.Errorf("rowan not found via manifest descriptors: %+v", res)
	}

	// Unknown locations fall back to the request's own entities.
	_, err = e.ValidateRequest(ctx, narrative.Request{
		Narrative:        "The healer hummed.",
		ExpectedEntities: []scene.Entity{{ID: "rowan"}},
		Location:         "nowhere",
	})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("id-only entity at unknown location: error = %v, want ErrInvalidInput", err)
	}

	locs, err := e.Locations(ctx)
	if err != nil || !slices.Equal(locs, []string{"Flagon"}) {
		t.Errorf("Locations = %v, %v", locs, err)
	}
}

func TestEngine_ManifestWithoutSupplier(t *testing.T) {
	t.Parallel()

	e := newEngine(t, testConfig())
	if _, err := e.Manifest(context.Background(), "Flagon"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEngine_SetDefaults(t *testing.T) {
	t.Parallel()

	e := newEngine(t, testConfig())
	bad := testConfig()
	bad.MinPrefix = 0
	if err := e.SetDefaults(bad); !errors.Is(err, scene.ErrInvalidConfig) {
		t.Fatalf("SetDefaults(invalid) = %v, want ErrInvalidConfig", err)
	}

	next := testConfig()
	next.Strategy = fusion.Unanimous
	if err := e.SetDefaults(next); err != nil {
		t.Fatalf("SetDefaults: %v", err)
	}
	if got := e.Defaults().Strategy; got != fusion.Unanimous {
		t.Errorf("Defaults().Strategy = %q", got)
	}

	// Mutating the returned copy must not leak into the engine.
	d := e.Defaults()
	d.Weights["exact"] = 0
	if e.Defaults().Weights["exact"] != 1.0 {
		t.Error("Defaults() shares its weights map")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := narrative.DefaultConfig()
	cfg.Timeout = 0
	if _, err := narrative.New(cfg); !errors.Is(err, scene.ErrInvalidConfig) {
		t.Fatalf("New = %v, want ErrInvalidConfig", err)
	}
}
