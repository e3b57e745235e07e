package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSceneFile reads and parses a scenes YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadSceneFile(path string) (*SceneFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open scene file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadScenesFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse scene file %q: %w", path, err)
	}
	return sf, nil
}

// LoadScenesFromReader parses scenes YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadScenesFromReader(r io.Reader) (*SceneFile, error) {
	var sf SceneFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("entity: decode scenes yaml: %w", err)
	}
	return &sf, nil
}

// ImportScenes stores every scene of sf in store.
// An error from the store aborts the import and returns the count so far.
func ImportScenes(ctx context.Context, store Store, sf *SceneFile) (int, error) {
	if sf == nil {
		return 0, fmt.Errorf("entity: scene file must not be nil")
	}
	n, err := store.BulkImport(ctx, sf.Scenes)
	if err != nil {
		return n, fmt.Errorf("entity: import scenes: %w", err)
	}
	return n, nil
}

// LoadStore is a convenience that loads path into a new [MemStore].
func LoadStore(ctx context.Context, path string) (*MemStore, error) {
	sf, err := LoadSceneFile(path)
	if err != nil {
		return nil, err
	}
	s := NewMemStore()
	if _, err := ImportScenes(ctx, s, sf); err != nil {
		return nil, err
	}
	return s, nil
}
