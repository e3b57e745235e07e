// Package cache memoises validation results.
//
// A [Cache] wraps a [Backend] with single-flight deduplication: concurrent
// requests for the same key share one computation, so an expensive semantic
// call is never issued twice for the same (narrative, entities) pair. Backend
// failures are logged and treated as misses; they never fail a validation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// DefaultTTL is how long a cached result stays valid.
const DefaultTTL = 10 * time.Minute

// Backend stores results by key. Implementations must be safe for concurrent
// use and must not retain or mutate the results they are given.
type Backend interface {
	// Name labels metrics and logs ("memory", "sqlite", "postgres").
	Name() string

	// Get returns the stored result and true, or false on a miss or expiry.
	Get(ctx context.Context, key string) (*scene.ValidationResult, bool, error)

	// Put stores r under key for ttl.
	Put(ctx context.Context, key string, r *scene.ValidationResult, ttl time.Duration) error

	// Prune removes expired entries and reports how many were dropped.
	Prune(ctx context.Context) (int64, error)

	// Check reports whether the backend is reachable.
	Check(ctx context.Context) error

	Close() error
}

// Cache adds single-flight and TTL policy on top of a [Backend].
type Cache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *observe.Metrics
}

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMetrics records lookups to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{backend: backend, ttl: DefaultTTL}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// ComputeFunc produces a fresh result on a miss.
type ComputeFunc func(ctx context.Context) (*scene.ValidationResult, error)

// Do returns the cached result for key, or runs compute once for all
// concurrent callers asking for key and stores its result unless it is
// degraded. Hits are returned with Metadata.Cached set. Every caller receives
// its own copy.
//
// The shared computation is detached from the first caller's cancellation so
// that other waiters are not failed by it; each caller still stops waiting
// when its own ctx is done.
func (c *Cache) Do(ctx context.Context, key string, compute ComputeFunc) (*scene.ValidationResult, error) {
	if r, ok := c.get(ctx, key); ok {
		r.Metadata.Cached = true
		return r, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		sctx := context.WithoutCancel(ctx)
		r, err := compute(sctx)
		if err != nil {
			return nil, err
		}
		// Degraded verdicts are shared with concurrent waiters but not stored,
		// so the next call retries the failed matcher.
		if r.Degraded {
			return r, nil
		}
		if perr := c.backend.Put(sctx, key, r, c.ttl); perr != nil {
			slog.Warn("cache: put failed", "backend", c.backend.Name(), "err", perr)
		}
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r, ok := res.Val.(*scene.ValidationResult)
		if !ok || r == nil {
			return nil, errors.New("cache: computation returned no result")
		}
		return r.Clone(), nil
	}
}

func (c *Cache) get(ctx context.Context, key string) (*scene.ValidationResult, bool) {
	r, ok, err := c.backend.Get(ctx, key)
	switch {
	case err != nil:
		slog.Warn("cache: get failed, treating as miss", "backend", c.backend.Name(), "err", err)
		c.metrics.RecordCacheLookup(ctx, c.backend.Name(), "error")
		return nil, false
	case !ok || r == nil:
		c.metrics.RecordCacheLookup(ctx, c.backend.Name(), "miss")
		return nil, false
	}
	c.metrics.RecordCacheLookup(ctx, c.backend.Name(), "hit")
	return r.Clone(), true
}

// RunJanitor prunes expired entries every interval until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.backend.Prune(ctx)
			if err != nil {
				slog.Warn("cache: prune failed", "backend", c.backend.Name(), "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("cache: pruned expired entries", "backend", c.backend.Name(), "count", n)
			}
		}
	}
}

// Check reports backend readiness.
func (c *Cache) Check(ctx context.Context) error { return c.backend.Check(ctx) }

// Close releases the backend.
func (c *Cache) Close() error { return c.backend.Close() }

// Backend kinds accepted by [OpenBackend].
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindNone     = "none"
)

// OpenBackend constructs the backend named by kind. dsn is a file path for
// sqlite and a connection string for postgres. KindNone (or "") returns a nil
// Backend: caching disabled.
func OpenBackend(ctx context.Context, kind, dsn string) (Backend, error) {
	switch kind {
	case KindNone, "":
		return nil, nil
	case KindMemory:
		return NewMemory(0), nil
	case KindSQLite:
		b, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindPostgres:
		b, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", scene.ErrInvalidConfig, kind)
	}
}
