package entity

import (
	"context"
	"errors"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// ErrNotFound is returned when no manifest exists for the requested location.
var ErrNotFound = errors.New("entity: location not found")

// Supplier is the read-only view of scene state used during validation.
//
// Implementations must be safe for concurrent use and must return manifests
// the caller may modify freely.
type Supplier interface {
	// Manifest returns the manifest for location. Location lookup ignores
	// case and surrounding whitespace.
	// Returns [ErrNotFound] when the location is unknown.
	Manifest(ctx context.Context, location string) (scene.EntityManifest, error)

	// Locations lists every known location in sorted order.
	Locations(ctx context.Context) ([]string, error)
}

// Store is a [Supplier] that can be populated.
type Store interface {
	Supplier

	// Put stores manifest, replacing any manifest for the same location.
	// Entities without an id get a generated one and a zero Timestamp is set
	// to the current time. The stored manifest is returned.
	Put(ctx context.Context, manifest scene.EntityManifest) (scene.EntityManifest, error)

	// Remove deletes the manifest for location.
	// Returns [ErrNotFound] when the location is unknown.
	Remove(ctx context.Context, location string) error

	// BulkImport stores every manifest in order and returns how many were
	// stored before the first error.
	BulkImport(ctx context.Context, manifests []scene.EntityManifest) (int, error)
}
