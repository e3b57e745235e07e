package entity

import (
	"errors"
	"fmt"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Validate checks a scene entity for required fields and valid enum values.
//
// Rules:
//   - Name must be non-empty.
//   - Type, when set, must be a recognised [scene.EntityType].
//   - Gender, when set, must be a recognised [scene.Gender].
//   - Descriptors must not contain empty strings.
func Validate(e scene.Entity) error {
	var errs []error

	if e.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if e.Type != "" && !e.Type.IsValid() {
		errs = append(errs, fmt.Errorf("type %q is not a recognised entity type", e.Type))
	}
	if !e.Gender.IsValid() {
		errs = append(errs, fmt.Errorf("gender %q is not recognised", e.Gender))
	}
	for i, d := range e.Descriptors {
		if d == "" {
			errs = append(errs, fmt.Errorf("descriptors[%d] must not be empty", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// ValidateManifest checks the location, every entity, and id uniqueness.
// Entities with an empty id are allowed; the store assigns one.
func ValidateManifest(m scene.EntityManifest) error {
	var errs []error
	if m.Location == "" {
		errs = append(errs, errors.New("location must not be empty"))
	}
	seen := make(map[string]int, len(m.Entities))
	for i, e := range m.Entities {
		if err := Validate(e); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
		}
		if e.ID == "" {
			continue
		}
		if prev, ok := seen[e.ID]; ok {
			errs = append(errs, fmt.Errorf("entities[%d]: id %q is a duplicate of entities[%d]", i, e.ID, prev))
		}
		seen[e.ID] = i
	}
	return errors.Join(errs...)
}
