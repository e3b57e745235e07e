package fuzzy

import (
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// titlePattern matches an honorific followed by a capitalised fragment:
// "Sir A.", "Lady Mir", "Captain Vex's".
var titlePattern = func() *regexp.Regexp {
	alts := make([]string, 0, len(titles))
	for t := range titles {
		alts = append(alts, strings.ToUpper(t[:1])+t[1:])
	}
	slices.Sort(alts)
	return regexp.MustCompile(`\b(` + strings.Join(alts, "|") + `)\.?\s+(\p{Lu}[\p{L}'’-]*)`)
}()

// titled looks for title and possessive patterns referring to e.
func (m *Matcher) titled(doc *document, e scene.Entity) []scene.MatchRecord {
	var recs []scene.MatchRecord

	own := nameTitle(e)
	for _, loc := range titlePattern.FindAllStringSubmatchIndex(doc.text, -1) {
		title := strings.ToLower(doc.text[loc[2]:loc[3]])
		if own != "" && own != title {
			continue
		}
		words := wordmatch.Words(doc.text[loc[4]:loc[5]])
		if len(words) == 0 || !m.fragmentRelates(words[0], e) {
			continue
		}
		recs = append(recs, doc.record(e, scene.MatchFuzzyTitle, m.titleConf, scene.Span{Start: loc[0], End: loc[5]}))
	}

	heads := descriptorHeads(m.descriptors(e))
	toks := doc.tokens
	for i := 0; i+2 < len(toks); i++ {
		if toks[i].Lower != "the" || !toks[i+1].Possessive || toks[i+2].Sentence != toks[i].Sentence {
			continue
		}
		frag := toks[i+1].Lower
		related := (own != "" && frag == own) || heads[frag] ||
			slices.ContainsFunc(significantNameWords(e, m.minPrefix), func(n string) bool {
				return commonPrefix(frag, n) >= m.minPrefix
			})
		if related {
			recs = append(recs, doc.record(e, scene.MatchFuzzyTitle, m.titleConf, scene.Span{Start: toks[i].Start, End: toks[i+2].End}))
		}
	}
	return recs
}

// fragmentRelates reports whether a fragment following a title plausibly
// abbreviates one of e's name words. The title already narrows the field, so
// a shared initial is enough.
func (m *Matcher) fragmentRelates(frag string, e scene.Entity) bool {
	for _, n := range significantNameWords(e, 1) {
		if strings.HasPrefix(n, frag) || commonPrefix(frag, n) >= 2 || similarity(frag, n) >= m.threshold {
			return true
		}
	}
	return false
}

// descriptorHeads returns the final word of each descriptor phrase, the
// noun a possessive is built on ("healer" in "the healer's staff").
func descriptorHeads(phrases []string) map[string]bool {
	heads := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		if ws := strings.Fields(phraseKey(p)); len(ws) > 0 {
			heads[ws[len(ws)-1]] = true
		}
	}
	return heads
}
