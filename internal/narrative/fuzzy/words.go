package fuzzy

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// stopwords are common English words that never count as a partial name,
// even when they share a prefix with one ("the" and "Theodric").
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"not": true, "no": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "than": true, "so": true, "as": true,
	"at": true, "by": true, "for": true, "from": true, "in": true,
	"into": true, "of": true, "on": true, "to": true, "with": true,
	"up": true, "out": true, "this": true, "that": true, "these": true,
	"those": true, "there": true, "here": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "while": true, "you": true,
	"your": true, "we": true, "our": true, "all": true, "some": true,
	"over": true, "under": true, "after": true, "before": true, "again": true,
	"now": true, "just": true, "only": true, "very": true,
}

// titles are honorifics that precede names.
var titles = map[string]bool{
	"sir": true, "lady": true, "lord": true, "dame": true, "captain": true,
	"commander": true, "master": true, "mistress": true, "king": true,
	"queen": true, "prince": true, "princess": true, "father": true,
	"mother": true, "brother": true, "sister": true, "elder": true,
	"doctor": true, "professor": true, "mr": true, "mrs": true, "ms": true,
}

func isStopword(w string) bool { return stopwords[w] || pronouns[w] != pronounNone }

func isTitle(w string) bool { return titles[w] }

// nameWords splits an entity name into lower-case words.
func nameWords(e scene.Entity) []string {
	return wordmatch.Words(e.Name)
}

// significantNameWords returns the words of e's name that can identify it on
// their own: not titles, not stopwords, and at least min letters long.
func significantNameWords(e scene.Entity, min int) []string {
	var out []string
	for _, w := range nameWords(e) {
		if isTitle(w) || isStopword(w) || runeLen(w) < min {
			continue
		}
		out = append(out, w)
	}
	return out
}

// nameTitle returns the honorific that begins e's name, if any.
func nameTitle(e scene.Entity) string {
	ws := nameWords(e)
	if len(ws) > 1 && isTitle(ws[0]) {
		return ws[0]
	}
	return ""
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// commonPrefix returns the number of leading runes a and b share.
func commonPrefix(a, b string) int {
	n := 0
	for a != "" && b != "" {
		ra, sa := utf8.DecodeRuneInString(a)
		rb, sb := utf8.DecodeRuneInString(b)
		if ra != rb {
			break
		}
		n++
		a, b = a[sa:], b[sb:]
	}
	return n
}

// phraseKey normalises a descriptor phrase: lower-case words, leading
// article removed.
func phraseKey(p string) string {
	return strings.Join(wordmatch.StripArticle(wordmatch.Words(p)), " ")
}
