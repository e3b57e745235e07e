// Package scene defines the data model shared by every narrative validator:
// the entities expected in a scene, the manifest that describes the scene,
// and the advisory [ValidationResult] produced by matchers and the engine.
//
// The package has no dependencies on the matchers themselves so that external
// callers (HTTP handlers, MCP tools, the CLI) can build requests without
// importing the validation internals.
package scene

import (
	"fmt"
	"slices"
	"time"
)

// EntityType classifies an entity that may appear in a scene.
type EntityType string

const (
	// EntityPlayerCharacter is a character controlled by a player.
	EntityPlayerCharacter EntityType = "player_character"

	// EntityNPC is a non-player character.
	EntityNPC EntityType = "npc"

	// EntityCreature is a monster, animal, or other non-person being.
	EntityCreature EntityType = "creature"

	// EntityItem is a physical object or artifact.
	EntityItem EntityType = "item"

	// EntityLocation is a place in the game world.
	EntityLocation EntityType = "location"
)

// IsValid reports whether t is a recognised entity type.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPlayerCharacter, EntityNPC, EntityCreature, EntityItem, EntityLocation:
		return true
	}
	return false
}

// Gender is optional grammatical metadata used when resolving pronouns.
// The zero value means unknown; an entity with unknown gender is compatible
// with every pronoun.
type Gender string

const (
	GenderUnknown Gender = ""
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderNeuter  Gender = "neuter"
	GenderPlural  Gender = "plural"
)

// IsValid reports whether g is a recognised gender value (including unknown).
func (g Gender) IsValid() bool {
	switch g {
	case GenderUnknown, GenderMale, GenderFemale, GenderNeuter, GenderPlural:
		return true
	}
	return false
}

// Entity is a named thing that the narrative is expected to mention.
type Entity struct {
	// ID uniquely identifies the entity within a manifest.
	ID string `json:"id" yaml:"id"`

	// Name is the canonical display name, e.g. "Gideon" or "Sir Aldric".
	Name string `json:"name" yaml:"name"`

	// Type classifies the entity.
	Type EntityType `json:"type" yaml:"type"`

	// Status holds state tags such as "injured" or "invisible". Treated as a set.
	Status []string `json:"status,omitempty" yaml:"status,omitempty"`

	// Descriptors are alternate references ("the healer", "the old man").
	// Order is preserved.
	Descriptors []string `json:"descriptors,omitempty" yaml:"descriptors,omitempty"`

	// Archetype is an optional role key ("cleric", "fighter") consulted by the
	// descriptor matcher's built-in role table when Descriptors is empty.
	Archetype string `json:"archetype,omitempty" yaml:"archetype,omitempty"`

	// Gender is optional pronoun metadata.
	Gender Gender `json:"gender,omitempty" yaml:"gender,omitempty"`
}

// HasStatus reports whether the entity carries the given status tag.
func (e Entity) HasStatus(tag string) bool {
	return slices.Contains(e.Status, tag)
}

// EntityManifest is a snapshot of the entities present at a location.
type EntityManifest struct {
	Location  string    `json:"location" yaml:"location"`
	Entities  []Entity  `json:"entities" yaml:"entities"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Lookup returns the entity with the given id.
func (m EntityManifest) Lookup(id string) (Entity, bool) {
	for _, e := range m.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// Validate rejects manifests with empty or duplicate entity ids.
func (m EntityManifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Entities))
	for i, e := range m.Entities {
		if e.ID == "" {
			return fmt.Errorf("%w: manifest %q entity %d has empty id", ErrInvalidInput, m.Location, i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: manifest %q has duplicate entity id %q", ErrInvalidInput, m.Location, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// MatchType names the technique that produced a [MatchRecord].
type MatchType string

const (
	MatchExact           MatchType = "exact"
	MatchDescriptor      MatchType = "descriptor"
	MatchFuzzyPartial    MatchType = "fuzzy_partial"
	MatchFuzzySimilarity MatchType = "fuzzy_similarity"
	MatchFuzzyTitle      MatchType = "fuzzy_title"
	MatchPronoun         MatchType = "pronoun"
	MatchSemantic        MatchType = "semantic"
)

// Span is a half-open byte range [Start, End) into the narrative.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// MatchRecord is one piece of evidence that an entity is present.
type MatchRecord struct {
	EntityID   string    `json:"entity_id"`
	MatchType  MatchType `json:"match_type"`
	Confidence float64   `json:"confidence"`

	// Span locates the matched text. Nil for semantic matches.
	Span *Span `json:"span,omitempty"`

	// Matcher is the name of the validator that produced the record.
	Matcher string `json:"matcher,omitempty"`

	// Term is the narrative text (or descriptor) that matched.
	Term string `json:"term,omitempty"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	// ValidatorChain lists matchers in the order they were consulted.
	ValidatorChain []string `json:"validator_chain"`
	ElapsedMS      int64    `json:"elapsed_ms"`
	Cached         bool     `json:"cached"`

	// FinalState is the escalation state the controller stopped in.
	FinalState string `json:"final_state,omitempty"`

	// Strategy is the fusion strategy used to combine matcher verdicts.
	Strategy string `json:"strategy,omitempty"`
}

// ValidationResult is the advisory verdict for one narrative.
type ValidationResult struct {
	EntitiesFound   []string      `json:"entities_found"`
	EntitiesMissing []string      `json:"entities_missing"`
	Confidence      float64       `json:"confidence"`
	MatchRecords    []MatchRecord `json:"match_records"`
	Degraded        bool          `json:"degraded"`
	Warnings        []string      `json:"warnings"`
	Metadata        Metadata      `json:"metadata"`
}

// Found reports whether id is listed in EntitiesFound.
func (r *ValidationResult) Found(id string) bool {
	return slices.Contains(r.EntitiesFound, id)
}

// RecordsFor returns the match records for a single entity.
func (r *ValidationResult) RecordsFor(id string) []MatchRecord {
	var out []MatchRecord
	for _, rec := range r.MatchRecords {
		if rec.EntityID == id {
			out = append(out, rec)
		}
	}
	return out
}

// Clone returns a deep copy of r. Cached results are cloned before being
// handed to callers so that callers cannot mutate the cache.
func (r *ValidationResult) Clone() *ValidationResult {
	if r == nil {
		return nil
	}
	c := *r
	c.EntitiesFound = slices.Clone(r.EntitiesFound)
	c.EntitiesMissing = slices.Clone(r.EntitiesMissing)
	c.Warnings = slices.Clone(r.Warnings)
	c.Metadata.ValidatorChain = slices.Clone(r.Metadata.ValidatorChain)
	c.MatchRecords = make([]MatchRecord, len(r.MatchRecords))
	for i, rec := range r.MatchRecords {
		if rec.Span != nil {
			sp := *rec.Span
			rec.Span = &sp
		}
		c.MatchRecords[i] = rec
	}
	return &c
}
