// Package narrative is the validation engine: it turns a narrative passage
// and the entities expected in the scene into an advisory
// [scene.ValidationResult].
//
// An [Engine] builds the matcher tiers (exact, descriptor, fuzzy and, when an
// LLM is configured, semantic) from a [Config], runs them through the
// escalation controller, and memoises results in an optional cache. The
// engine keeps no per-call state and is safe for concurrent use; its default
// Config can be swapped at runtime with [Engine.SetDefaults].
package narrative

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/scenecheck/internal/entity"
	"github.com/MrWong99/scenecheck/internal/narrative/cache"
	"github.com/MrWong99/scenecheck/internal/narrative/descriptor"
	"github.com/MrWong99/scenecheck/internal/narrative/escalate"
	"github.com/MrWong99/scenecheck/internal/narrative/exact"
	"github.com/MrWong99/scenecheck/internal/narrative/fuzzy"
	"github.com/MrWong99/scenecheck/internal/narrative/semantic"
	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/pkg/provider/llm"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Engine validates narratives. Create one with [New].
type Engine struct {
	defaults atomic.Pointer[Config]

	llm          llm.Provider
	semanticOpts []semantic.Option
	cache        *cache.Cache
	bucket       time.Duration
	supplier     entity.Supplier
	metrics      *observe.Metrics
	sleep        func(context.Context, time.Duration) error
	roles        descriptor.RoleTable
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLLM enables the semantic tier backed by p. Without it the semantic tier
// is skipped and results carry a "semantic tier unavailable" warning.
func WithLLM(p llm.Provider, opts ...semantic.Option) Option {
	return func(e *Engine) {
		e.llm = p
		e.semanticOpts = opts
	}
}

// WithCache memoises results in c. bucket is the manifest-timestamp
// granularity of cache keys; zero selects [cache.DefaultBucket].
func WithCache(c *cache.Cache, bucket time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.bucket = bucket
	}
}

// WithSupplier resolves request locations to scene manifests.
func WithSupplier(s entity.Supplier) Option {
	return func(e *Engine) { e.supplier = s }
}

// WithMetrics records validation metrics to m instead of the default
// instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSleep replaces the backoff sleep used between semantic retries.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithRoleTable replaces the descriptor matcher's built-in role table.
func WithRoleTable(t descriptor.RoleTable) Option {
	return func(e *Engine) { e.roles = t }
}

// New creates an Engine with cfg as its default configuration.
func New(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{bucket: cache.DefaultBucket}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.bucket <= 0 {
		e.bucket = cache.DefaultBucket
	}
	if err := e.SetDefaults(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Defaults returns a copy of the current default configuration.
func (e *Engine) Defaults() Config {
	cfg := *e.defaults.Load()
	cfg.Weights = maps.Clone(cfg.Weights)
	return cfg
}

// SetDefaults validates cfg and makes it the default for subsequent calls.
// Calls already running keep the configuration they started with.
func (e *Engine) SetDefaults(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("narrative: %w", err)
	}
	cfg.Weights = maps.Clone(cfg.Weights)
	e.defaults.Store(&cfg)
	return nil
}

// SemanticEnabled reports whether an LLM backs the semantic tier.
func (e *Engine) SemanticEnabled() bool { return e.llm != nil }

// Validate checks narrative against expected using the default
// configuration. Only [scene.ErrInvalidInput] and [scene.ErrInvalidConfig]
// failures are returned as errors, plus ctx errors when the caller gives up
// while waiting on a shared computation.
func (e *Engine) Validate(ctx context.Context, narrative string, expected []scene.Entity, manifest scene.EntityManifest) (*scene.ValidationResult, error) {
	return e.run(ctx, e.Defaults(), narrative, expected, manifest)
}

// ValidateRequest is the request-level entry point used by the HTTP, MCP and
// CLI surfaces. It merges the request's config over the defaults, resolves
// the scene manifest for req.Location, and fills in expected entities given
// by id only.
func (e *Engine) ValidateRequest(ctx context.Context, req Request) (*scene.ValidationResult, error) {
	cfg, err := req.Config.Apply(e.Defaults())
	if err != nil {
		return nil, fmt.Errorf("narrative: %w", err)
	}
	manifest := e.resolveManifest(ctx, req.Location, req.ExpectedEntities)
	expected := fillFromManifest(req.ExpectedEntities, manifest)
	return e.run(ctx, cfg, req.Narrative, expected, manifest)
}

// Manifest returns the supplier's manifest for location.
// Returns [entity.ErrNotFound] when no supplier is configured.
func (e *Engine) Manifest(ctx context.Context, location string) (scene.EntityManifest, error) {
	if e.supplier == nil {
		return scene.EntityManifest{}, fmt.Errorf("%w: %q (no scene supplier configured)", entity.ErrNotFound, location)
	}
	return e.supplier.Manifest(ctx, location)
}

// Locations lists the supplier's known locations.
func (e *Engine) Locations(ctx context.Context) ([]string, error) {
	if e.supplier == nil {
		return []string{}, nil
	}
	return e.supplier.Locations(ctx)
}

func (e *Engine) run(ctx context.Context, cfg Config, narrative string, expected []scene.Entity, manifest scene.EntityManifest) (*scene.ValidationResult, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, observe.SpanValidate,
		attribute.Int("entities.expected", len(expected)),
		attribute.String("scene.location", manifest.Location),
		attribute.String("fusion.strategy", string(cfg.Strategy)),
	)
	defer span.End()

	if err := scene.CheckInput(narrative, expected); err != nil {
		err = fmt.Errorf("narrative: %w", err)
		observe.FailSpan(span, err)
		return nil, err
	}
	ctrl, err := e.controller(cfg)
	if err != nil {
		err = fmt.Errorf("narrative: %w", err)
		observe.FailSpan(span, err)
		return nil, err
	}

	compute := func(ctx context.Context) (*scene.ValidationResult, error) {
		e.metrics.InFlight.Add(ctx, 1)
		defer e.metrics.InFlight.Add(ctx, -1)
		return ctrl.Run(ctx, narrative, expected, manifest)
	}

	var res *scene.ValidationResult
	if e.cache != nil {
		key := cache.Key(narrative, expected, manifest.Timestamp, e.bucket, e.salt(cfg, expected))
		res, err = e.cache.Do(ctx, key, compute)
	} else {
		res, err = compute(ctx)
	}
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}

	elapsed := time.Since(start)
	res.Metadata.ElapsedMS = elapsed.Milliseconds()
	e.metrics.RecordValidation(ctx, elapsed, res.Metadata.FinalState, res.Metadata.Cached, res.Degraded)
	span.SetAttributes(
		attribute.Float64("result.confidence", res.Confidence),
		attribute.String("result.final_state", res.Metadata.FinalState),
		attribute.Bool("result.cached", res.Metadata.Cached),
		attribute.Bool("result.degraded", res.Degraded),
	)

	log := observe.Logger(ctx)
	log.Debug("narrative validated",
		"found", res.EntitiesFound,
		"missing", res.EntitiesMissing,
		"confidence", res.Confidence,
		"final_state", res.Metadata.FinalState,
		"cached", res.Metadata.Cached,
		"elapsed_ms", res.Metadata.ElapsedMS,
	)
	if res.Degraded {
		log.Warn("narrative validation degraded", "warnings", res.Warnings)
	}
	return res, nil
}

// controller assembles the tiers for cfg. Matchers are plain values, so
// building them per call keeps per-request overrides isolated.
func (e *Engine) controller(cfg Config) (*escalate.Controller, error) {
	descOpts := []descriptor.Option{descriptor.WithConfidence(cfg.DescriptorConfidence)}
	if e.roles != nil {
		descOpts = append(descOpts, descriptor.WithRoleTable(e.roles))
	}
	desc := descriptor.New(descOpts...)
	fz := fuzzy.New(
		fuzzy.WithMinPrefix(cfg.MinPrefix),
		fuzzy.WithFuzzyThreshold(cfg.FuzzyThreshold),
		fuzzy.WithDescriptorSource(desc.Phrases),
	)

	opts := []escalate.Option{
		escalate.WithTier(escalate.ExactChecked, escalate.Tier{
			Matchers:  []scene.Matcher{exact.New()},
			Budget:    cfg.Budgets.Exact,
			Threshold: cfg.Thresholds.Exact,
		}),
		escalate.WithTier(escalate.DescriptorChecked, escalate.Tier{
			Matchers:  []scene.Matcher{desc},
			Budget:    cfg.Budgets.Descriptor,
			Threshold: cfg.Thresholds.Descriptor,
		}),
		escalate.WithTier(escalate.FuzzyChecked, escalate.Tier{
			Matchers:  []scene.Matcher{fz},
			Budget:    cfg.Budgets.Fuzzy,
			Threshold: cfg.Thresholds.Fuzzy,
		}),
		escalate.WithFusion(cfg.fusion()),
		escalate.WithRetry(cfg.MaxRetries, cfg.BackoffBase),
		escalate.WithMetrics(e.metrics),
	}
	if e.llm != nil {
		opts = append(opts, escalate.WithTier(escalate.SemanticChecked, escalate.Tier{
			Matchers:  []scene.Matcher{semantic.New(e.llm, e.semanticOpts...)},
			Budget:    cfg.Timeout,
			Threshold: cfg.Thresholds.Semantic,
		}))
	}
	if e.sleep != nil {
		opts = append(opts, escalate.WithSleep(e.sleep))
	}
	return escalate.New(opts...)
}

// salt separates cache entries computed under different settings or entity
// definitions that share ids.
func (e *Engine) salt(cfg Config, expected []scene.Entity) string {
	ents := slices.Clone(expected)
	slices.SortFunc(ents, func(a, b scene.Entity) int { return cmp.Compare(a.ID, b.ID) })
	b, err := json.Marshal(struct {
		Config   Config         `json:"config"`
		Entities []scene.Entity `json:"entities"`
		Semantic bool           `json:"semantic"`
	}{cfg, ents, e.llm != nil})
	if err != nil {
		return fmt.Sprintf("%+v|%+v|%t", cfg, ents, e.llm != nil)
	}
	return string(b)
}

// resolveManifest looks location up in the supplier. Unknown locations and
// supplier failures fall back to a manifest built from expected.
func (e *Engine) resolveManifest(ctx context.Context, location string, expected []scene.Entity) scene.EntityManifest {
	synth := scene.EntityManifest{Location: location, Entities: expected}
	if e.supplier == nil || location == "" {
		return synth
	}
	m, err := e.supplier.Manifest(ctx, location)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		observe.Logger(ctx).Debug("unknown location, using expected entities as manifest", "location", location)
		return synth
	case err != nil:
		observe.Logger(ctx).Warn("scene supplier failed, using expected entities as manifest", "location", location, "err", err)
		return synth
	}
	return m
}

// fillFromManifest replaces expected entities given by id only with their
// manifest definition.
func fillFromManifest(expected []scene.Entity, manifest scene.EntityManifest) []scene.Entity {
	out := make([]scene.Entity, len(expected))
	for i, ent := range expected {
		if ent.Name == "" {
			if m, ok := manifest.Lookup(ent.ID); ok {
				ent = m
			}
		}
		out[i] = ent
	}
	return out
}
