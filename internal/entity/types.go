// Package entity supplies scene manifests: the authoritative list of entities
// present at each location.
//
// The validation engine only reads manifests through [Supplier]. Manifests are
// loaded ahead of time from a YAML scene file ([LoadSceneFile],
// [LoadScenesFromReader]) or a Foundry VTT world export
// ([ImportFoundryScenes]) into a [Store].
//
// All store operations are safe for concurrent use.
package entity

import "github.com/MrWong99/scenecheck/pkg/scene"

// SceneFile is the top-level structure of a scenes YAML file.
//
// Example:
//
//	scenes:
//	  - location: "The Rusty Flagon"
//	    entities:
//	      - id: gideon
//	        name: Gideon
//	        type: player_character
//	        gender: male
//	      - id: rowan
//	        name: Rowan
//	        type: npc
//	        descriptors: ["the healer", "the half-elf"]
type SceneFile struct {
	Scenes []scene.EntityManifest `yaml:"scenes"`
}

// cloneManifest returns a copy of m that shares no slices with it.
func cloneManifest(m scene.EntityManifest) scene.EntityManifest {
	out := m
	out.Entities = make([]scene.Entity, len(m.Entities))
	for i, e := range m.Entities {
		e.Status = cloneStrings(e.Status)
		e.Descriptors = cloneStrings(e.Descriptors)
		out.Entities[i] = e
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
