// Package exact implements the cheapest validator tier: case-insensitive,
// whole-word search for each entity's canonical name.
package exact

import (
	"context"
	"fmt"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Name is the matcher name reported in validator chains and metrics.
const Name = "exact"

// Confidence is assigned to every exact name hit.
const Confidence = 1.0

// Matcher finds entities mentioned by their canonical name.
type Matcher struct{}

var _ scene.Matcher = (*Matcher)(nil)

// New returns an exact-name matcher.
func New() *Matcher { return &Matcher{} }

// Name implements [scene.Matcher].
func (*Matcher) Name() string { return Name }

// Validate implements [scene.Matcher]. Every occurrence of an entity's name
// produces one record; there is no partial credit.
func (m *Matcher) Validate(ctx context.Context, narrative string, expected []scene.Entity, _ scene.EntityManifest) (*scene.ValidationResult, error) {
	if err := scene.CheckInput(narrative, expected); err != nil {
		return nil, fmt.Errorf("exact: %w", err)
	}

	tokens := wordmatch.Tokenize(narrative)
	var records []scene.MatchRecord
	for _, e := range expected {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("exact: %w", err)
		}
		for _, sp := range wordmatch.Find(tokens, e.Name) {
			records = append(records, scene.MatchRecord{
				EntityID:   e.ID,
				MatchType:  scene.MatchExact,
				Confidence: Confidence,
				Span:       &sp,
				Matcher:    Name,
				Term:       narrative[sp.Start:sp.End],
			})
		}
	}
	return scene.NewResult(Name, expected, records, nil), nil
}
