package fuzzy

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// minSimilarLen is the shortest candidate, in letters, that the similarity
// technique considers. Shorter words produce meaningless scores.
const minSimilarLen = 4

// similarity returns the better of Jaro-Winkler similarity and normalised
// Levenshtein similarity between two lower-case strings.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	score := matchr.JaroWinkler(a, b, false)
	longest := max(runeLen(a), runeLen(b))
	if longest > 0 {
		lev := 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
		if lev > score {
			score = lev
		}
	}
	return score
}

// similarityConfidence maps a score in [threshold, 1] linearly onto
// [0.5, 0.9].
func (m *Matcher) similarityConfidence(score float64) float64 {
	if m.threshold >= 1 {
		return similarityConfidenceCeil
	}
	frac := (score - m.threshold) / (1 - m.threshold)
	frac = scene.Clamp01(frac)
	return similarityConfidenceFloor + frac*(similarityConfidenceCeil-similarityConfidenceFloor)
}

// similar compares capitalised narrative n-grams against e's name and all
// narrative n-grams against e's descriptors. Identical descriptor text is
// left to the descriptor matcher.
func (m *Matcher) similar(doc *document, e scene.Entity) []scene.MatchRecord {
	var recs []scene.MatchRecord

	fullName := strings.Join(nameWords(e), " ")
	nameParts := significantNameWords(e, minSimilarLen)
	nameLen := len(nameWords(e))

	for i, tok := range doc.tokens {
		if !tok.Capitalized() || isStopword(tok.Lower) || isIndefinite(tok.Lower) {
			continue
		}
		best := 0.0
		span := tok.Span()
		if runeLen(tok.Lower) >= minSimilarLen && !isTitle(tok.Lower) {
			for _, n := range nameParts {
				if s := similarity(tok.Lower, n); s > best {
					best = s
				}
			}
		}
		if nameLen > 1 {
			if gram, sp, ok := ngram(doc.tokens, i, nameLen); ok {
				if s := similarity(gram, fullName); s > best {
					best, span = s, sp
				}
			}
		}
		if best >= m.threshold {
			recs = append(recs, doc.record(e, scene.MatchFuzzySimilarity, m.similarityConfidence(best), span))
		}
	}

	for _, phrase := range m.descriptors(e) {
		key := phraseKey(phrase)
		if runeLen(key) < minSimilarLen {
			continue
		}
		n := len(strings.Fields(key))
		for i := range doc.tokens {
			gram, sp, ok := ngram(doc.tokens, i, n)
			if !ok || gram == key || isStopword(doc.tokens[i].Lower) {
				continue
			}
			if s := similarity(gram, key); s >= m.threshold {
				recs = append(recs, doc.record(e, scene.MatchFuzzySimilarity, m.similarityConfidence(s), sp))
			}
		}
	}
	return recs
}

// ngram joins n tokens starting at i, provided they share a sentence.
func ngram(tokens []wordmatch.Token, i, n int) (string, scene.Span, bool) {
	if n < 1 || i+n > len(tokens) {
		return "", scene.Span{}, false
	}
	words := make([]string, n)
	for j := range n {
		t := tokens[i+j]
		if t.Sentence != tokens[i].Sentence {
			return "", scene.Span{}, false
		}
		words[j] = t.Lower
	}
	return strings.Join(words, " "), scene.Span{Start: tokens[i].Start, End: tokens[i+n-1].End}, true
}
