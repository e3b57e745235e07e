package descriptor

import "github.com/MrWong99/scenecheck/pkg/scene"

// RoleTable maps an archetype key to the generic phrases a narrator uses for
// that role.
type RoleTable map[string][]string

// DefaultRoles is consulted for entities that declare no descriptors of their
// own.
var DefaultRoles = RoleTable{
	"cleric":     {"healer", "priest", "priestess", "cleric"},
	"paladin":    {"paladin", "knight", "holy warrior"},
	"fighter":    {"warrior", "fighter", "swordsman", "swordswoman"},
	"soldier":    {"soldier", "trooper"},
	"guard":      {"guard", "sentry", "watchman"},
	"rogue":      {"rogue", "thief", "cutpurse"},
	"wizard":     {"wizard", "mage", "sorcerer", "sorceress", "spellcaster"},
	"ranger":     {"ranger", "archer", "hunter", "tracker"},
	"bard":       {"bard", "minstrel", "singer"},
	"druid":      {"druid"},
	"monk":       {"monk"},
	"merchant":   {"merchant", "trader", "shopkeeper", "peddler"},
	"innkeeper":  {"innkeeper", "barkeep", "bartender"},
	"noble":      {"noble", "lord", "lady"},
	"child":      {"child", "boy", "girl"},
	"elder":      {"old man", "old woman", "elder"},
	"blacksmith": {"blacksmith", "smith"},
}

// typeRoles is the last resort for entities with neither descriptors nor an
// archetype.
var typeRoles = map[scene.EntityType][]string{
	scene.EntityCreature: {"creature", "beast", "monster"},
}

// phrasesFor returns the descriptor phrases to search for e.
func (t RoleTable) phrasesFor(e scene.Entity) []string {
	if len(e.Descriptors) > 0 {
		return e.Descriptors
	}
	if ps, ok := t[e.Archetype]; ok && e.Archetype != "" {
		return ps
	}
	return typeRoles[e.Type]
}
