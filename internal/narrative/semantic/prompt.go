package semantic

import (
	"fmt"
	"strings"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// maxFieldLen caps each sanitised entity field, in runes.
const maxFieldLen = 50

const standardSystemPrompt = `You are a continuity checker for a tabletop role-playing game narrator.

Your task: decide which of the listed scene entities are present in, or clearly referred to by, the narrative passage.

Rules:
- An entity counts as present if it is named, described by one of its aliases, or unambiguously referred to (title, nickname, pronoun with a clear antecedent).
- Do NOT count an entity that is only mentioned as absent, remembered, or hypothetical.
- Vague references ("someone", "a figure") do not count unless the passage makes the identity clear.
- Use only the entity ids from the list below.

Scene entities:
%s
Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "entities_present": ["<entity id>", ...],
  "confidence": <0.0-1.0>,
  "reasoning": "<one short sentence>"
}`

const simpleSystemPrompt = `Which of these ids appear in the passage?
%s
Reply with JSON only: {"entities_present": [ids], "confidence": 0.0-1.0, "reasoning": "short"}`

// sanitize strips characters that could break out of the prompt's list
// structure and truncates the result to maxFieldLen runes.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '`', '\\', '“', '”', '‘', '’':
			return -1
		case '\n', '\r', '\t':
			return ' '
		}
		return r
	}, s)
	return truncate(strings.Join(strings.Fields(s), " "))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > maxFieldLen {
		return string(r[:maxFieldLen])
	}
	return s
}

// entityList renders the entity block for the given variant and returns the
// mapping from the sanitised id shown to the model back to the real id. Ids
// that collide once sanitised get a numeric suffix. The alias list of each
// entity is capped at maxFieldLen runes as a whole.
func entityList(expected []scene.Entity, variant scene.PromptVariant) (string, map[string]string) {
	ids := make(map[string]string, len(expected))
	var sb strings.Builder
	for _, e := range expected {
		id := uniqueID(sanitize(e.ID), ids)
		ids[id] = e.ID

		if variant == scene.VariantSimple {
			fmt.Fprintf(&sb, "- %s (%s)\n", id, sanitize(e.Name))
			continue
		}
		fmt.Fprintf(&sb, "- id: %s | name: %s", id, sanitize(e.Name))
		if e.Type != "" {
			fmt.Fprintf(&sb, " | type: %s", sanitize(string(e.Type)))
		}
		if len(e.Descriptors) > 0 {
			aliases := make([]string, 0, len(e.Descriptors))
			for _, d := range e.Descriptors {
				if d = sanitize(d); d != "" {
					aliases = append(aliases, d)
				}
			}
			fmt.Fprintf(&sb, " | aliases: %s", truncate(strings.Join(aliases, "; ")))
		}
		sb.WriteByte('\n')
	}
	return sb.String(), ids
}

// uniqueID returns id, or id with the smallest "-N" suffix not yet in taken.
func uniqueID(id string, taken map[string]string) string {
	if _, dup := taken[id]; !dup {
		return id
	}
	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s-%d", id, n)
		if _, dup := taken[cand]; !dup {
			return cand
		}
	}
}

// buildPrompt assembles the system prompt and user message for variant.
func buildPrompt(narrative string, expected []scene.Entity, variant scene.PromptVariant) (system, user string, ids map[string]string) {
	list, ids := entityList(expected, variant)
	if variant == scene.VariantSimple {
		return fmt.Sprintf(simpleSystemPrompt, list), narrative, ids
	}
	return fmt.Sprintf(standardSystemPrompt, list), "<narrative>\n" + narrative + "\n</narrative>", ids
}
