package cache

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow implements pgx.Row.
type fakeRow struct {
	payload []byte
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.payload
	return nil
}

// fakePG is an in-memory stand-in for a pgx pool that understands the
// backend's three statements.
type fakePG struct {
	mu      sync.Mutex
	rows    map[string]fakePGRow
	execs   []string
	execErr error
	closed  bool
}

type fakePGRow struct {
	payload []byte
	expires time.Time
}

func (f *fakePG) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	switch {
	case strings.Contains(sql, "INSERT INTO validation_cache"):
		f.rows[args[0].(string)] = fakePGRow{payload: args[1].([]byte), expires: args[2].(time.Time)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM validation_cache"):
		now := args[0].(time.Time)
		var n int
		for k, r := range f.rows {
			if !r.expires.After(now) {
				delete(f.rows, k)
				n++
			}
		}
		return pgconn.NewCommandTag("DELETE " + strconv.Itoa(n)), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakePG) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[args[0].(string)]
	if !ok || !r.expires.After(args[1].(time.Time)) {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{payload: r.payload}
}

func (f *fakePG) Ping(context.Context) error { return nil }
func (f *fakePG) Close()                     { f.closed = true }

func TestPostgresBackend_WithFakePool(t *testing.T) {
	t.Parallel()

	db := &fakePG{rows: make(map[string]fakePGRow)}
	ctx := context.Background()
	p, err := newPostgres(ctx, db)
	if err != nil {
		t.Fatalf("newPostgres: %v", err)
	}
	if !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS validation_cache") {
		t.Errorf("schema not applied: %v", db.execs)
	}

	now := time.Unix(9000, 0)
	p.now = func() time.Time { return now }

	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get on empty = %v, %v", ok, err)
	}
	if err := p.Put(ctx, "k", sample(), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || !got.Found("gideon") {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Error("expired row returned")
	}
	n, err := p.Prune(ctx)
	if err != nil || n != 1 {
		t.Errorf("Prune() = %d, %v, want 1", n, err)
	}

	_ = p.Close()
	if !db.closed {
		t.Error("Close did not close the pool")
	}
}

func TestPostgresBackend_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	db := &fakePG{rows: make(map[string]fakePGRow), execErr: boom}
	if _, err := newPostgres(context.Background(), db); !errors.Is(err, boom) {
		t.Errorf("newPostgres error = %v, want wrapped %v", err, boom)
	}

	p := &PostgresBackend{db: &fakePG{rows: map[string]fakePGRow{"k": {payload: []byte("{not json"), expires: time.Now().Add(time.Hour)}}}, now: time.Now}
	if _, _, err := p.Get(context.Background(), "k"); err == nil {
		t.Error("expected decode error")
	}
}

// testDSN returns the integration database DSN, or skips.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SCENECHECK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCENECHECK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration test")
	}
	return dsn
}

func TestPostgresBackend_Integration(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	p, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	key := "integration-" + time.Now().Format(time.RFC3339Nano)
	if err := p.Put(ctx, key, sample(), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := p.Get(ctx, key)
	if err != nil || !ok || !got.Found("gideon") {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}
	if err := p.Check(ctx); err != nil {
		t.Errorf("Check: %v", err)
	}
}
