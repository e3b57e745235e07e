package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// DefaultMaxEntries bounds a [MemoryBackend].
const DefaultMaxEntries = 4096

type memEntry struct {
	result  *scene.ValidationResult
	expires time.Time
}

// MemoryBackend is an in-process TTL map. When full, expired entries are
// dropped first, then the entry closest to expiry.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	maxEntries int
	now        func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemory creates a MemoryBackend holding at most maxEntries results
// (DefaultMaxEntries when <= 0).
func NewMemory(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryBackend{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Name implements [Backend].
func (*MemoryBackend) Name() string { return "memory" }

// Get implements [Backend].
func (m *MemoryBackend) Get(_ context.Context, key string) (*scene.ValidationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.result.Clone(), true, nil
}

// Put implements [Backend].
func (m *MemoryBackend) Put(_ context.Context, key string, r *scene.ValidationResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evict(now)
	}
	m.entries[key] = memEntry{result: r.Clone(), expires: now.Add(ttl)}
	return nil
}

// evict must be called with m.mu held.
func (m *MemoryBackend) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(m.entries) >= m.maxEntries && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Prune implements [Backend].
func (m *MemoryBackend) Prune(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Check implements [Backend].
func (*MemoryBackend) Check(context.Context) error { return nil }

// Close implements [Backend].
func (*MemoryBackend) Close() error { return nil }
