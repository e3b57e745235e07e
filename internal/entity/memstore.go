package entity

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu        sync.RWMutex
	manifests map[string]scene.EntityManifest

	// Now stamps manifests stored without a timestamp. Nil means time.Now.
	Now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		manifests: make(map[string]scene.EntityManifest),
	}
}

// Manifest implements [Supplier.Manifest].
func (s *MemStore) Manifest(ctx context.Context, location string) (scene.EntityManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.manifests[locationKey(location)]
	if !ok {
		return scene.EntityManifest{}, fmt.Errorf("%w: %q", ErrNotFound, location)
	}
	return cloneManifest(m), nil
}

// Locations implements [Supplier.Locations].
func (s *MemStore) Locations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.manifests))
	for _, m := range s.manifests {
		out = append(out, m.Location)
	}
	slices.Sort(out)
	return out, nil
}

// Put implements [Store.Put].
func (s *MemStore) Put(ctx context.Context, manifest scene.EntityManifest) (scene.EntityManifest, error) {
	if err := ValidateManifest(manifest); err != nil {
		return scene.EntityManifest{}, fmt.Errorf("entity: manifest %q: %w", manifest.Location, err)
	}

	m := cloneManifest(manifest)
	m.Location = strings.TrimSpace(m.Location)
	for i := range m.Entities {
		if m.Entities[i].ID == "" {
			m.Entities[i].ID = uuid.NewString()
		}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifests == nil {
		s.manifests = make(map[string]scene.EntityManifest)
	}
	s.manifests[locationKey(m.Location)] = m
	return cloneManifest(m), nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(ctx context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := locationKey(location)
	if _, ok := s.manifests[key]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, location)
	}
	delete(s.manifests, key)
	return nil
}

// BulkImport implements [Store.BulkImport].
// The import is best-effort: manifests are stored one at a time and the count
// of stored manifests is returned along with the first error encountered.
func (s *MemStore) BulkImport(ctx context.Context, manifests []scene.EntityManifest) (int, error) {
	count := 0
	for _, m := range manifests {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := s.Put(ctx, m); err != nil {
			return count, fmt.Errorf("entity: bulk import at index %d: %w", count, err)
		}
		count++
	}
	return count, nil
}

func (s *MemStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// locationKey normalises a location for lookup.
func locationKey(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}
