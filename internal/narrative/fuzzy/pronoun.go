package fuzzy

import (
	"fmt"
	"slices"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

type pronounClass int

const (
	pronounNone pronounClass = iota
	pronounMasculine
	pronounFeminine
	pronounNeuter
	pronounPlural
)

var pronouns = map[string]pronounClass{
	"he": pronounMasculine, "him": pronounMasculine, "his": pronounMasculine, "himself": pronounMasculine,
	"she": pronounFeminine, "her": pronounFeminine, "hers": pronounFeminine, "herself": pronounFeminine,
	"it": pronounNeuter, "its": pronounNeuter, "itself": pronounNeuter,
	"they": pronounPlural, "them": pronounPlural, "their": pronounPlural, "theirs": pronounPlural, "themselves": pronounPlural,
}

// indefinites never resolve to an entity.
var indefinites = map[string]bool{
	"someone": true, "somebody": true, "something": true,
	"anyone": true, "anybody": true,
}

// indefiniteNouns are vague when introduced by "a" or "an": "a figure".
var indefiniteNouns = map[string]bool{
	"figure": true, "stranger": true, "voice": true, "shape": true,
	"silhouette": true, "shadow": true, "presence": true,
}

func isIndefinite(w string) bool { return indefinites[w] }

// compatible reports whether a pronoun of class p can refer to e. Gender
// metadata decides when present; otherwise the entity type does.
func compatible(p pronounClass, e scene.Entity) bool {
	switch e.Gender {
	case scene.GenderMale:
		return p == pronounMasculine || p == pronounPlural
	case scene.GenderFemale:
		return p == pronounFeminine || p == pronounPlural
	case scene.GenderNeuter:
		return p == pronounNeuter
	case scene.GenderPlural:
		return p == pronounPlural
	}
	switch p {
	case pronounMasculine, pronounFeminine:
		switch e.Type {
		case scene.EntityItem, scene.EntityLocation:
			return false
		}
	case pronounNeuter:
		switch e.Type {
		case scene.EntityPlayerCharacter, scene.EntityNPC:
			return false
		}
	}
	return true
}

type mention struct {
	entity   int // index into expected
	index    int // token index of the first word
	sentence int
}

// mentions collects every place an expected entity is named, described, or
// matched by an earlier technique, one entry per entity and start token.
func (m *Matcher) mentions(doc *document, expected []scene.Entity, records []scene.MatchRecord) []mention {
	pos := make(map[string]int, len(expected))
	for i, e := range expected {
		pos[e.ID] = i
	}

	var out []mention
	seen := make(map[[2]int]bool)
	add := func(ent, idx int) {
		if seen[[2]int{ent, idx}] {
			return
		}
		seen[[2]int{ent, idx}] = true
		out = append(out, mention{entity: ent, index: idx, sentence: doc.tokens[idx].Sentence})
	}

	for _, rec := range records {
		if rec.Span == nil {
			continue
		}
		if idx, ok := doc.byStart[rec.Span.Start]; ok {
			add(pos[rec.EntityID], idx)
		}
	}
	for i, e := range expected {
		for _, idx := range wordmatch.FindIndex(doc.tokens, e.Name) {
			add(i, idx)
		}
		for _, p := range m.descriptors(e) {
			for _, idx := range wordmatch.FindIndex(doc.tokens, phraseKey(p)) {
				add(i, idx)
			}
		}
	}
	return out
}

// resolvePronouns attributes each pronoun to the compatible entity whose
// mention most closely precedes it. When that nearest mention belongs to
// more than one entity, as with a shared descriptor, a warning is produced
// instead of a record.
func (m *Matcher) resolvePronouns(doc *document, expected []scene.Entity, records []scene.MatchRecord) ([]scene.MatchRecord, []string) {
	ments := m.mentions(doc, expected, records)
	if len(ments) == 0 {
		return nil, nil
	}

	var (
		recs     []scene.MatchRecord
		warnings []string
	)
	for k, tok := range doc.tokens {
		class := pronouns[tok.Lower]
		if class == pronounNone {
			continue
		}

		var (
			candidates []int
			nearest    = -1
			sentence   int
		)
		for _, mm := range ments {
			if mm.index >= k || mm.index < nearest || !compatible(class, expected[mm.entity]) {
				continue
			}
			if mm.index > nearest {
				nearest, sentence = mm.index, mm.sentence
				candidates = candidates[:0]
			}
			if !slices.Contains(candidates, mm.entity) {
				candidates = append(candidates, mm.entity)
			}
		}

		switch len(candidates) {
		case 0:
		case 1:
			conf := m.pronounBeyond
			if sentence == tok.Sentence {
				conf = m.pronounSame
			}
			recs = append(recs, doc.record(expected[candidates[0]], scene.MatchPronoun, conf, tok.Span()))
		default:
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = expected[c].ID
			}
			warnings = append(warnings, fmt.Sprintf("ambiguous pronoun %q could refer to %v", tok.Text, ids))
		}
	}
	return recs, warnings
}

// indefiniteWarnings reports vague references that could not be attributed.
func indefiniteWarnings(doc *document) []string {
	var out []string
	toks := doc.tokens
	for i, tok := range toks {
		switch {
		case indefinites[tok.Lower]:
			out = append(out, fmt.Sprintf("ambiguous reference %q not attributed to any entity", tok.Text))
		case (tok.Lower == "a" || tok.Lower == "an") && i+1 < len(toks) && indefiniteNouns[toks[i+1].Lower]:
			out = append(out, fmt.Sprintf("ambiguous reference %q not attributed to any entity", doc.text[tok.Start:toks[i+1].End]))
		}
	}
	return out
}
