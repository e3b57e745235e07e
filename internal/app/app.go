// Package app wires the scenecheck subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject implementations via functional options (WithLLM,
// WithEntityStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/scenecheck/internal/api"
	"github.com/MrWong99/scenecheck/internal/config"
	"github.com/MrWong99/scenecheck/internal/entity"
	"github.com/MrWong99/scenecheck/internal/mcpserver"
	"github.com/MrWong99/scenecheck/internal/narrative"
	"github.com/MrWong99/scenecheck/internal/narrative/cache"
	"github.com/MrWong99/scenecheck/internal/narrative/descriptor"
	"github.com/MrWong99/scenecheck/internal/narrative/semantic"
	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/internal/resilience"
	"github.com/MrWong99/scenecheck/pkg/provider/llm"
)

// telemetryFlushTimeout bounds the final span flush during Shutdown.
const telemetryFlushTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	version  string

	// Subsystems, initialised in New and torn down in Shutdown.
	entities entity.Store
	llm      llm.Provider
	fallback *resilience.LLMFallback
	backend  cache.Backend
	cache    *cache.Cache
	engine   *narrative.Engine
	metrics  *observe.Metrics
	tel      *observe.Telemetry
	level    *slog.LevelVar
	handler  *api.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry supplies the provider registry used to build the semantic
// backends named in the config.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLLM injects the semantic backend instead of building one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithEntityStore injects a scene store instead of loading one from config.
func WithEntityStore(s entity.Store) Option {
	return func(a *App) { a.entities = s }
}

// WithCacheBackend injects a cache backend instead of opening the configured
// one.
func WithCacheBackend(b cache.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics records to m instead of the default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry records to tel's instruments, serves its registry on
// /metrics, and shuts it down last.
func WithTelemetry(tel *observe.Telemetry) Option {
	return func(a *App) { a.tel = tel }
}

// WithLevelVar shares the process log level so config reloads can change it.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion sets the version reported over MCP.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: scene loading, semantic
// backend construction, cache backend connection, and engine assembly.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.tel != nil && a.metrics == nil {
		a.metrics = a.tel.Metrics
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}

	// ── 1. Scene store ───────────────────────────────────────────────────
	if err := a.initScenes(ctx); err != nil {
		return nil, fmt.Errorf("app: init scenes: %w", err)
	}

	// ── 2. Semantic backend ──────────────────────────────────────────────
	if err := a.initSemantic(); err != nil {
		return nil, fmt.Errorf("app: init semantic: %w", err)
	}

	// ── 3. Result cache ──────────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 4. Engine ────────────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 5. HTTP handler ──────────────────────────────────────────────────
	apiOpts := []api.Option{api.WithCheckers(a.checkers()...)}
	if a.tel != nil {
		apiOpts = append(apiOpts, api.WithMetricsHandler(a.tel.Handler()))
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
			defer cancel()
			return a.tel.Shutdown(ctx)
		})
	}
	a.handler = api.New(a.engine, apiOpts...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initScenes loads the scene YAML file and Foundry world export, if any.
func (a *App) initScenes(ctx context.Context) error {
	if a.entities != nil {
		return nil
	}
	store := entity.NewMemStore()
	a.entities = store

	if path := a.cfg.Scenes.Path; path != "" {
		sf, err := entity.LoadSceneFile(path)
		if err != nil {
			return err
		}
		n, err := entity.ImportScenes(ctx, store, sf)
		if err != nil {
			return fmt.Errorf("import scenes %q: %w", path, err)
		}
		slog.Info("imported scenes", "path", path, "count", n)
	}

	if path := a.cfg.Scenes.FoundryWorld; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open foundry world: %w", err)
		}
		defer f.Close()
		n, err := entity.ImportFoundryScenes(ctx, store, f)
		if err != nil {
			return fmt.Errorf("import foundry world %q: %w", path, err)
		}
		slog.Info("imported foundry scenes", "path", path, "count", n)
	}
	return nil
}

// initSemantic builds the primary provider and its fallbacks, each behind a
// circuit breaker. No configured provider leaves the semantic tier disabled.
func (a *App) initSemantic() error {
	sc := a.cfg.Semantic
	breaker := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  sc.CircuitBreaker.MaxFailures,
		ResetTimeout: sc.CircuitBreaker.ResetTimeout,
		HalfOpenMax:  sc.CircuitBreaker.HalfOpenMax,
	}}

	if a.llm != nil {
		a.fallback = resilience.NewLLMFallback(a.llm, "injected", breaker)
		return nil
	}
	if sc.Provider.Name == "" {
		return nil
	}
	if a.registry == nil {
		return errors.New("semantic.provider is set but no provider registry was supplied")
	}

	primary, err := a.registry.CreateLLM(sc.Provider)
	if err != nil {
		return fmt.Errorf("create %q: %w", sc.Provider.Name, err)
	}
	a.fallback = resilience.NewLLMFallback(primary, sc.Provider.Name, breaker)

	for i, fb := range sc.Fallbacks {
		p, err := a.registry.CreateLLM(fb)
		if err != nil {
			slog.Warn("skipping semantic fallback", "index", i, "name", fb.Name, "err", err)
			continue
		}
		a.fallback.AddFallback(fmt.Sprintf("%s#%d", fb.Name, i), p)
	}
	return nil
}

// initCache opens the configured backend and starts its janitor.
func (a *App) initCache(ctx context.Context) error {
	cc := a.cfg.Cache
	if a.backend == nil {
		b, err := cache.OpenBackend(ctx, cc.Backend, cc.DSN)
		if err != nil {
			return err
		}
		a.backend = b
	}
	if a.backend == nil {
		slog.Info("result cache disabled")
		return nil
	}

	a.cache = cache.New(a.backend, cache.WithTTL(cc.TTL), cache.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.cache.Close)

	if cc.JanitorInterval > 0 {
		janitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		go a.cache.RunJanitor(janitorCtx, cc.JanitorInterval)
		// Stop the janitor before the backend closes.
		a.closers = append([]func() error{func() error { cancel(); return nil }}, a.closers...)
	}
	return nil
}

func (a *App) initEngine() error {
	opts := []narrative.Option{
		narrative.WithSupplier(a.entities),
		narrative.WithMetrics(a.metrics),
	}
	if a.fallback != nil {
		var sopts []semantic.Option
		if t := a.cfg.Semantic.Temperature; t > 0 {
			sopts = append(sopts, semantic.WithTemperature(t))
		}
		if n := a.cfg.Semantic.MaxTokens; n > 0 {
			sopts = append(sopts, semantic.WithMaxTokens(n))
		}
		opts = append(opts, narrative.WithLLM(a.fallback, sopts...))
	}
	if a.cache != nil {
		opts = append(opts, narrative.WithCache(a.cache, a.cfg.Cache.Bucket))
	}
	if len(a.cfg.Validation.Roles) > 0 {
		opts = append(opts, narrative.WithRoleTable(descriptor.RoleTable(a.cfg.Validation.Roles)))
	}

	eng, err := narrative.New(a.cfg.Validation.Engine(), opts...)
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

// checkers returns the readiness checks for the configured subsystems.
func (a *App) checkers() []api.Checker {
	var out []api.Checker
	if a.cache != nil {
		out = append(out, api.Checker{Name: "cache", Check: a.cache.Check})
	}
	if a.fallback != nil {
		out = append(out, api.Checker{Name: "llm", Check: a.fallback.Check})
	}
	return out
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the validation engine.
func (a *App) Engine() *narrative.Engine { return a.engine }

// Handler returns the HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler.Routes(a.metrics) }

// MCPServer returns an MCP server backed by the engine.
func (a *App) MCPServer() *mcpserver.Server { return mcpserver.New(a.engine, a.version) }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change: the log
// level and the engine defaults. Everything else is logged as requiring a
// restart. Suitable as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ValidationChanged {
		if err := a.engine.SetDefaults(new.Validation.Engine()); err != nil {
			slog.Error("rejected validation defaults", "err", err)
		} else {
			slog.Info("validation defaults reloaded")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that require a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		tls := a.cfg.Server.TLS
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)
		if tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
