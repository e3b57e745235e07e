package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS validation_cache (
    cache_key  TEXT        PRIMARY KEY,
    payload    JSONB       NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_cache_expires
    ON validation_cache (expires_at);
`

// pgDB is the subset of [pgxpool.Pool] the backend uses.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresBackend shares results between engine replicas through PostgreSQL.
type PostgresBackend struct {
	db  pgDB
	now func() time.Time
}

var _ Backend = (*PostgresBackend)(nil)

// OpenPostgres connects to dsn and ensures the cache table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: postgres: ping: %w", err)
	}
	b, err := newPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func newPostgres(ctx context.Context, db pgDB) (*PostgresBackend, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("cache: postgres: migrate: %w", err)
	}
	return &PostgresBackend{db: db, now: time.Now}, nil
}

// Name implements [Backend].
func (*PostgresBackend) Name() string { return "postgres" }

// Get implements [Backend].
func (p *PostgresBackend) Get(ctx context.Context, key string) (*scene.ValidationResult, bool, error) {
	var payload []byte
	err := p.db.QueryRow(ctx,
		`SELECT payload FROM validation_cache WHERE cache_key = $1 AND expires_at > $2`,
		key, p.now(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: postgres get: %w", err)
	}

	var r scene.ValidationResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false, fmt.Errorf("cache: postgres decode: %w", err)
	}
	return &r, true, nil
}

// Put implements [Backend].
func (p *PostgresBackend) Put(ctx context.Context, key string, r *scene.ValidationResult, ttl time.Duration) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("cache: postgres encode: %w", err)
	}
	if _, err := p.db.Exec(ctx,
		`INSERT INTO validation_cache (cache_key, payload, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`,
		key, payload, p.now().Add(ttl),
	); err != nil {
		return fmt.Errorf("cache: postgres put: %w", err)
	}
	return nil
}

// Prune implements [Backend].
func (p *PostgresBackend) Prune(ctx context.Context) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM validation_cache WHERE expires_at <= $1`, p.now())
	if err != nil {
		return 0, fmt.Errorf("cache: postgres prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Check implements [Backend].
func (p *PostgresBackend) Check(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close implements [Backend].
func (p *PostgresBackend) Close() error {
	p.db.Close()
	return nil
}
