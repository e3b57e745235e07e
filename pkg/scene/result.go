package scene

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// CheckInput validates the arguments common to every matcher.
func CheckInput(narrative string, expected []Entity) error {
	if strings.TrimSpace(narrative) == "" {
		return fmt.Errorf("%w: narrative is empty", ErrInvalidInput)
	}
	if len(expected) == 0 {
		return fmt.Errorf("%w: no expected entities", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(expected))
	for i, e := range expected {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("%w: entity %d has empty id", ErrInvalidInput, i)
		}
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("%w: entity %q has empty name", ErrInvalidInput, e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate entity id %q", ErrInvalidInput, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Clamp01 clamps v into [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// NewResult builds a single-matcher result from evidence records. An entity is
// found when at least one record names it; its confidence is the maximum of
// its record confidences. Overall confidence is the mean over all expected
// entities, with missing entities contributing zero.
func NewResult(matcher string, expected []Entity, records []MatchRecord, warnings []string) *ValidationResult {
	best := make(map[string]float64, len(expected))
	for _, rec := range records {
		if c := Clamp01(rec.Confidence); c > best[rec.EntityID] {
			best[rec.EntityID] = c
		} else if _, ok := best[rec.EntityID]; !ok {
			best[rec.EntityID] = c
		}
	}

	res := &ValidationResult{
		MatchRecords: records,
		Warnings:     warnings,
		Metadata:     Metadata{ValidatorChain: []string{matcher}},
	}
	var sum float64
	for _, e := range expected {
		if c, ok := best[e.ID]; ok {
			res.EntitiesFound = append(res.EntitiesFound, e.ID)
			sum += c
		} else {
			res.EntitiesMissing = append(res.EntitiesMissing, e.ID)
		}
	}
	if len(expected) > 0 {
		res.Confidence = sum / float64(len(expected))
	}
	return Finalize(res, expected)
}

// DegradedResult is the safe answer when a matcher cannot produce a verdict:
// every expected entity missing, zero confidence, degraded set.
func DegradedResult(matcher string, expected []Entity, warning string) *ValidationResult {
	res := &ValidationResult{
		Degraded: true,
		Metadata: Metadata{ValidatorChain: []string{matcher}},
	}
	for _, e := range expected {
		res.EntitiesMissing = append(res.EntitiesMissing, e.ID)
	}
	if warning != "" {
		res.Warnings = []string{warning}
	}
	return Finalize(res, expected)
}

// Finalize enforces the result invariants in place and returns r:
//   - found and missing partition the expected ids exactly;
//   - confidence is clamped into [0, 1] (NaN becomes 0);
//   - match records for ids outside expected are dropped;
//   - warnings are de-duplicated preserving order;
//   - slices are non-nil so they encode as JSON arrays.
func Finalize(r *ValidationResult, expected []Entity) *ValidationResult {
	ids := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		ids[e.ID] = struct{}{}
	}

	found := make(map[string]struct{}, len(r.EntitiesFound))
	for _, id := range r.EntitiesFound {
		if _, ok := ids[id]; ok {
			found[id] = struct{}{}
		}
	}
	r.EntitiesFound = r.EntitiesFound[:0]
	r.EntitiesMissing = r.EntitiesMissing[:0]
	for _, e := range expected {
		if _, ok := found[e.ID]; ok {
			r.EntitiesFound = append(r.EntitiesFound, e.ID)
		} else {
			r.EntitiesMissing = append(r.EntitiesMissing, e.ID)
		}
	}
	slices.Sort(r.EntitiesFound)
	slices.Sort(r.EntitiesMissing)

	r.Confidence = Clamp01(r.Confidence)

	recs := r.MatchRecords[:0]
	for _, rec := range r.MatchRecords {
		if _, ok := ids[rec.EntityID]; ok {
			rec.Confidence = Clamp01(rec.Confidence)
			recs = append(recs, rec)
		}
	}
	r.MatchRecords = recs

	r.Warnings = DedupeWarnings(r.Warnings)

	if r.EntitiesFound == nil {
		r.EntitiesFound = []string{}
	}
	if r.EntitiesMissing == nil {
		r.EntitiesMissing = []string{}
	}
	if r.MatchRecords == nil {
		r.MatchRecords = []MatchRecord{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if r.Metadata.ValidatorChain == nil {
		r.Metadata.ValidatorChain = []string{}
	}
	return r
}

// DedupeWarnings removes duplicate and empty warnings, keeping first
// occurrences in order.
func DedupeWarnings(ws []string) []string {
	if len(ws) == 0 {
		return ws
	}
	seen := make(map[string]struct{}, len(ws))
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// IDs returns the ids of entities in order.
func IDs(entities []Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}
