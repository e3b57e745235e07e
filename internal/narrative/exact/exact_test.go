package exact_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/scenecheck/internal/narrative/exact"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	expected := []scene.Entity{
		{ID: "gideon", Name: "Gideon", Type: scene.EntityPlayerCharacter},
		{ID: "rowan", Name: "Rowan", Type: scene.EntityNPC},
		{ID: "aldric", Name: "Sir Aldric", Type: scene.EntityNPC},
	}

	tests := []struct {
		name      string
		narrative string
		found     []string
		wantConf  float64
	}{
		{
			name:      "exact only",
			narrative: "Gideon and Rowan enter the tavern.",
			found:     []string{"gideon", "rowan"},
			wantConf:  2.0 / 3.0,
		},
		{
			name:      "case insensitive",
			narrative: "GIDEON shouts at rowan.",
			found:     []string{"gideon", "rowan"},
			wantConf:  2.0 / 3.0,
		},
		{
			name:      "whole word only",
			narrative: "Gideonson looks at the rowanberry.",
			found:     nil,
			wantConf:  0,
		},
		{
			name:      "multi-word name",
			narrative: "Sir Aldric bows.",
			found:     []string{"aldric"},
			wantConf:  1.0 / 3.0,
		},
		{
			name:      "possessive",
			narrative: "Gideon's sword gleams.",
			found:     []string{"gideon"},
			wantConf:  1.0 / 3.0,
		},
	}

	m := exact.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := m.Validate(context.Background(), tt.narrative, expected, scene.EntityManifest{})
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if len(res.EntitiesFound) != len(tt.found) {
				t.Fatalf("EntitiesFound = %v, want %v", res.EntitiesFound, tt.found)
			}
			for _, id := range tt.found {
				if !res.Found(id) {
					t.Errorf("%s not found", id)
				}
			}
			if diff := res.Confidence - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Confidence = %v, want %v", res.Confidence, tt.wantConf)
			}
			for _, rec := range res.MatchRecords {
				if rec.MatchType != scene.MatchExact || rec.Confidence != exact.Confidence {
					t.Errorf("record = %+v", rec)
				}
				if rec.Span == nil || tt.narrative[rec.Span.Start:rec.Span.End] != rec.Term {
					t.Errorf("record span does not cover term: %+v", rec)
				}
			}
		})
	}
}

func TestValidate_RecordsEveryOccurrence(t *testing.T) {
	t.Parallel()

	res, err := exact.New().Validate(context.Background(),
		"Rowan waved. Rowan laughed.",
		[]scene.Entity{{ID: "rowan", Name: "Rowan"}},
		scene.EntityManifest{})
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if len(res.MatchRecords) != 2 {
		t.Errorf("MatchRecords = %d, want 2", len(res.MatchRecords))
	}
}

func TestValidate_InvalidInput(t *testing.T) {
	t.Parallel()

	_, err := exact.New().Validate(context.Background(), "   ", []scene.Entity{{ID: "a", Name: "A"}}, scene.EntityManifest{})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Fatalf("Validate() error = %v, want ErrInvalidInput", err)
	}
}
