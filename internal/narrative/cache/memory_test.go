package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

func sample() *scene.ValidationResult {
	return scene.Finalize(&scene.ValidationResult{
		EntitiesFound: []string{"gideon"},
		Confidence:    0.9,
		Warnings:      []string{"w"},
	}, []scene.Entity{{ID: "gideon", Name: "Gideon"}})
}

func TestMemoryBackend_TTL(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	m := NewMemory(0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Put(ctx, "k", sample(), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missing")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expired entry returned")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, expired entry not dropped on read", m.Len())
	}
}

func TestMemoryBackend_CopiesResults(t *testing.T) {
	t.Parallel()

	m := NewMemory(0)
	ctx := context.Background()
	r := sample()
	_ = m.Put(ctx, "k", r, time.Minute)
	r.Warnings[0] = "mutated"

	got, _, _ := m.Get(ctx, "k")
	if got.Warnings[0] != "w" {
		t.Error("backend shares memory with the caller's result")
	}
	got.EntitiesFound[0] = "mutated"
	again, _, _ := m.Get(ctx, "k")
	if again.EntitiesFound[0] != "gideon" {
		t.Error("Get returned shared memory")
	}
}

func TestMemoryBackend_Eviction(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	m := NewMemory(3)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		_ = m.Put(ctx, fmt.Sprint(i), sample(), time.Duration(i+1)*time.Minute)
	}
	_ = m.Put(ctx, "new", sample(), time.Hour)
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	if _, ok, _ := m.Get(ctx, "0"); ok {
		t.Error("entry closest to expiry was not evicted")
	}
	if _, ok, _ := m.Get(ctx, "new"); !ok {
		t.Error("new entry missing")
	}
}

func TestMemoryBackend_Prune(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	m := NewMemory(0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_ = m.Put(ctx, "short", sample(), time.Second)
	_ = m.Put(ctx, "long", sample(), time.Hour)
	now = now.Add(time.Minute)

	n, err := m.Prune(ctx)
	if err != nil || n != 1 {
		t.Errorf("Prune() = %d, %v, want 1", n, err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d after prune", m.Len())
	}
}
