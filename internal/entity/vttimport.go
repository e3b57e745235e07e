package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// foundryWorld is the subset of a Foundry VTT world export that describes
// which actors stand in which scene. Unknown fields are silently ignored.
type foundryWorld struct {
	Actors []foundryActor `json:"actors"`
	Scenes []foundryScene `json:"scenes"`
}

type foundryActor struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type foundryScene struct {
	ID     string         `json:"_id"`
	Name   string         `json:"name"`
	Tokens []foundryToken `json:"tokens"`
}

type foundryToken struct {
	Name    string `json:"name"`
	ActorID string `json:"actorId"`
	Hidden  bool   `json:"hidden"`
}

// ImportFoundryScenes converts every scene of a Foundry VTT world export into
// a manifest: each token placed on the scene contributes its actor as an
// entity. A token renamed on the map adds its label as a descriptor of the
// actor. Hidden tokens are tagged with the "hidden" status.
//
// Scenes without tokens are skipped. The import is best-effort: the count of
// manifests stored before the first store error is returned with it.
func ImportFoundryScenes(ctx context.Context, store Store, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("entity: foundry vtt: read input: %w", err)
	}

	var world foundryWorld
	if err := json.Unmarshal(data, &world); err != nil {
		return 0, fmt.Errorf("entity: foundry vtt: parse json: %w", err)
	}

	actors := make(map[string]foundryActor, len(world.Actors))
	for _, a := range world.Actors {
		actors[a.ID] = a
	}

	var manifests []scene.EntityManifest
	for _, sc := range world.Scenes {
		if sc.Name == "" || len(sc.Tokens) == 0 {
			continue
		}
		m := scene.EntityManifest{Location: sc.Name}
		index := make(map[string]int)
		for _, tok := range sc.Tokens {
			a, ok := actors[tok.ActorID]
			if !ok || a.Name == "" {
				continue
			}
			i, seen := index[a.ID]
			if !seen {
				i = len(m.Entities)
				index[a.ID] = i
				m.Entities = append(m.Entities, scene.Entity{
					ID:   a.ID,
					Name: a.Name,
					Type: foundryEntityType(a.Type),
				})
			}
			e := &m.Entities[i]
			if label := strings.TrimSpace(tok.Name); label != "" && !strings.EqualFold(label, a.Name) && !containsFold(e.Descriptors, label) {
				e.Descriptors = append(e.Descriptors, label)
			}
			if tok.Hidden && !e.HasStatus("hidden") {
				e.Status = append(e.Status, "hidden")
			}
		}
		if len(m.Entities) > 0 {
			manifests = append(manifests, m)
		}
	}

	n, err := store.BulkImport(ctx, manifests)
	if err != nil {
		return n, fmt.Errorf("entity: foundry vtt: import: %w", err)
	}
	return n, nil
}

// foundryEntityType maps a Foundry actor type to a scene entity type. Game
// systems name their types freely; anything that is neither a player
// character nor an NPC is treated as a creature.
func foundryEntityType(actorType string) scene.EntityType {
	switch strings.ToLower(actorType) {
	case "character", "pc":
		return scene.EntityPlayerCharacter
	case "npc":
		return scene.EntityNPC
	case "vehicle", "loot":
		return scene.EntityItem
	}
	return scene.EntityCreature
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
