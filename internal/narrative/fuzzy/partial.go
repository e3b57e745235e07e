package fuzzy

import (
	"strings"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// maxExtension is how many letters a narrative word may add to a name word
// and still count as the same name ("Rowans", "Gideon-").
const maxExtension = 2

// partial finds narrative words that are a prefix of, equal to, or a short
// extension of one of e's significant name words.
func (m *Matcher) partial(doc *document, e scene.Entity) []scene.MatchRecord {
	names := significantNameWords(e, m.minPrefix)
	if len(names) == 0 {
		return nil
	}
	var recs []scene.MatchRecord
	for _, tok := range doc.tokens {
		if runeLen(tok.Lower) < m.minPrefix || isStopword(tok.Lower) || isTitle(tok.Lower) {
			continue
		}
		for _, n := range names {
			if m.partialMatch(tok, n) {
				recs = append(recs, doc.record(e, scene.MatchFuzzyPartial, m.partialConf, tok.Span()))
				break
			}
		}
	}
	return recs
}

func (m *Matcher) partialMatch(tok wordmatch.Token, name string) bool {
	w := tok.Lower
	switch {
	case w == name:
		return true
	case strings.HasPrefix(name, w):
		// Truncation: "Gid" for "Gideon". Lower-case truncations are
		// ordinary words far too often.
		return tok.Capitalized() && commonPrefix(w, name) >= m.minPrefix
	case strings.HasPrefix(w, name):
		return tok.Capitalized() && runeLen(w)-runeLen(name) <= maxExtension
	}
	return false
}
