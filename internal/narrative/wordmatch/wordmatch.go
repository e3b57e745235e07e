// Package wordmatch tokenizes narrative text into words with byte offsets and
// sentence indices, and finds whole-word phrase occurrences. It is shared by
// the exact, descriptor, and fuzzy matchers so that they agree on what a
// "word" is.
package wordmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Token is a single word in a narrative.
type Token struct {
	// Text is the word as written, without a trailing possessive suffix.
	Text string

	// Lower is the lower-cased Text.
	Lower string

	// Start and End are byte offsets of Text in the narrative.
	Start, End int

	// Sentence is the zero-based index of the sentence containing the token.
	Sentence int

	// Possessive is true when the word carried an "'s" suffix.
	Possessive bool
}

// Capitalized reports whether the token starts with an upper-case letter.
func (t Token) Capitalized() bool {
	r, _ := utf8.DecodeRuneInString(t.Text)
	return unicode.IsUpper(r)
}

// Span returns the token's byte range.
func (t Token) Span() scene.Span {
	return scene.Span{Start: t.Start, End: t.End}
}

// Tokenize splits text into words. A word is a run of letters and digits,
// optionally joined by inner apostrophes or hyphens ("half-elf", "o'brien").
// A trailing "'s" is stripped and recorded as possessive. Sentence indices
// advance after '!' or '?', and after a '.' that ends a sentence (see
// [endsSentence]).
func Tokenize(text string) []Token {
	var (
		tokens   []Token
		sentence int
		pending  bool
		start    = -1
	)

	flush := func(end int) {
		if start < 0 {
			return
		}
		word := strings.TrimRight(text[start:end], "'’-")
		possessive := false
		for _, suf := range []string{"'s", "’s", "'S", "’S"} {
			if strings.HasSuffix(word, suf) && len(word) > len(suf) {
				word = word[:len(word)-len(suf)]
				possessive = true
				break
			}
		}
		if word != "" {
			tokens = append(tokens, Token{
				Text:       word,
				Lower:      strings.ToLower(word),
				Start:      start,
				End:        start + len(word),
				Sentence:   sentence,
				Possessive: possessive,
			})
		}
		start = -1
	}

	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start < 0 {
				if pending {
					sentence++
					pending = false
				}
				start = i
			}
		case (r == '\'' || r == '’' || r == '-') && start >= 0:
			// Joiner: only part of the word when followed by a letter.
			next, _ := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):])
			if !unicode.IsLetter(next) {
				flush(i)
			}
		default:
			flush(i)
			switch r {
			case '!', '?':
				pending = true
			case '.':
				pending = pending || endsSentence(text, i, tokens)
			}
		}
	}
	flush(len(text))
	return tokens
}

// abbreviations end in a '.' that does not close a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "st": true, "sr": true,
	"jr": true, "prof": true, "capt": true, "lt": true, "sgt": true,
	"col": true, "gen": true, "mt": true, "ft": true, "vs": true, "etc": true,
}

// endsSentence reports whether the '.' at text[i] closes a sentence. It does
// not after an abbreviation or a single capital initial ("Mr. Vex",
// "J. Vex"), between digits ("3.5"), or when the next word starts in lower
// case.
func endsSentence(text string, i int, tokens []Token) bool {
	if n := len(tokens); n > 0 && tokens[n-1].End == i {
		last := tokens[n-1]
		if abbreviations[last.Lower] || (utf8.RuneCountInString(last.Text) == 1 && last.Capitalized() && last.Text != "I") {
			return false
		}
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	rest := text[i+1:]
	if next, _ := utf8.DecodeRuneInString(rest); unicode.IsDigit(prev) && unicode.IsDigit(next) {
		return false
	}
	for _, r := range rest {
		switch {
		case unicode.IsSpace(r), unicode.IsPunct(r):
			continue
		case unicode.IsLower(r):
			return false
		}
		return true
	}
	return true
}

// Words lower-cases and splits a phrase the same way [Tokenize] splits a
// narrative. A leading article ("the", "a", "an") is kept; callers decide
// whether to drop it.
func Words(phrase string) []string {
	toks := Tokenize(phrase)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Lower
	}
	return out
}

// Find returns every occurrence of phrase in tokens as a contiguous,
// case-insensitive, whole-word sequence.
func Find(tokens []Token, phrase string) []scene.Span {
	words := Words(phrase)
	if len(words) == 0 {
		return nil
	}
	var spans []scene.Span
	for i := 0; i+len(words) <= len(tokens); i++ {
		if matchAt(tokens, i, words) {
			spans = append(spans, scene.Span{
				Start: tokens[i].Start,
				End:   tokens[i+len(words)-1].End,
			})
		}
	}
	return spans
}

// FindIndex is like [Find] but returns the index of the first token of each
// occurrence.
func FindIndex(tokens []Token, phrase string) []int {
	words := Words(phrase)
	if len(words) == 0 {
		return nil
	}
	var idx []int
	for i := 0; i+len(words) <= len(tokens); i++ {
		if matchAt(tokens, i, words) {
			idx = append(idx, i)
		}
	}
	return idx
}

func matchAt(tokens []Token, i int, words []string) bool {
	for j, w := range words {
		if tokens[i+j].Lower != w {
			return false
		}
		// Only the last word of a phrase may carry a possessive.
		if j < len(words)-1 && tokens[i+j].Possessive {
			return false
		}
	}
	return true
}

// StripArticle removes a leading "the", "a" or "an" from a word list.
func StripArticle(words []string) []string {
	if len(words) > 1 {
		switch words[0] {
		case "the", "a", "an":
			return words[1:]
		}
	}
	return words
}

// Sentences returns the number of sentences spanned by tokens.
func Sentences(tokens []Token) int {
	if len(tokens) == 0 {
		return 0
	}
	return tokens[len(tokens)-1].Sentence + 1
}
