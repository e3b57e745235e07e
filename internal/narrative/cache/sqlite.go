package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS validation_cache (
    cache_key  TEXT    PRIMARY KEY,
    payload    BLOB    NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_cache_expires ON validation_cache (expires_at);
`

// SQLiteBackend persists results in a SQLite database file.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) the cache database at path. The
// special path ":memory:" yields a private in-memory database.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cache: sqlite path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: migrate sqlite: %w", err)
	}
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// Name implements [Backend].
func (*SQLiteBackend) Name() string { return "sqlite" }

// Get implements [Backend].
func (s *SQLiteBackend) Get(ctx context.Context, key string) (*scene.ValidationResult, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM validation_cache WHERE cache_key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: sqlite get: %w", err)
	}

	var r scene.ValidationResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false, fmt.Errorf("cache: sqlite decode: %w", err)
	}
	return &r, true, nil
}

// Put implements [Backend].
func (s *SQLiteBackend) Put(ctx context.Context, key string, r *scene.ValidationResult, ttl time.Duration) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("cache: sqlite encode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_cache (cache_key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, s.now().Add(ttl).UnixMilli(),
	); err != nil {
		return fmt.Errorf("cache: sqlite put: %w", err)
	}
	return nil
}

// Prune implements [Backend].
func (s *SQLiteBackend) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM validation_cache WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// Check implements [Backend].
func (s *SQLiteBackend) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Backend].
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
