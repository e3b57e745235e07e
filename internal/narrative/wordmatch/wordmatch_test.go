package wordmatch

import (
	"testing"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	text := "Gideon's blade rose. The half-elf smiled! Rowan?"
	toks := Tokenize(text)

	want := []struct {
		text       string
		sentence   int
		possessive bool
	}{
		{"Gideon", 0, true},
		{"blade", 0, false},
		{"rose", 0, false},
		{"The", 1, false},
		{"half-elf", 1, false},
		{"smiled", 1, false},
		{"Rowan", 2, false},
	}
	if len(toks) != len(want) {
		t.Fatalf("Tokenize() = %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
	for i, w := range want {
		got := toks[i]
		if got.Text != w.text || got.Sentence != w.sentence || got.Possessive != w.possessive {
			t.Errorf("token %d = %+v, want %+v", i, got, w)
		}
		if text[got.Start:got.End] != got.Text {
			t.Errorf("token %d span %d:%d = %q, want %q", i, got.Start, got.End, text[got.Start:got.End], got.Text)
		}
	}
}

func TestTokenize_SentenceBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want int
	}{
		{"Mr. Vex drew his blade.", 1},
		{"The potion cost 3.5 gold. Vex paid.", 2},
		{"J. Vex nodded.", 1},
		{"They waited... and waited.", 1},
		{"Vex left. Rowan stayed.", 2},
		{"Vex left... Rowan stayed!", 2},
		{"Who goes there? Nobody.", 2},
		{"It was I. Then Vex came.", 2},
		{"Vex left.  \"Wait,\" Rowan called.", 2},
	}
	for _, tt := range tests {
		if got := Sentences(Tokenize(tt.text)); got != tt.want {
			t.Errorf("Sentences(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestTokenize_TrailingJoiners(t *testing.T) {
	t.Parallel()

	toks := Tokenize("the elves' camp - north")
	var got []string
	for _, tok := range toks {
		got = append(got, tok.Text)
	}
	want := []string{"the", "elves", "camp", "north"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	text := "Sir Aldric met the old man. The Old Man's dog barked at aldricson."
	toks := Tokenize(text)

	tests := []struct {
		phrase string
		want   []scene.Span
	}{
		{"aldric", []scene.Span{{Start: 4, End: 10}}},
		{"old man", []scene.Span{{Start: 19, End: 26}, {Start: 32, End: 39}}},
		{"man's dog", nil},
		{"dragon", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := Find(toks, tt.phrase)
		if len(got) != len(tt.want) {
			t.Errorf("Find(%q) = %v, want %v", tt.phrase, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Find(%q)[%d] = %v, want %v", tt.phrase, i, got[i], tt.want[i])
			}
		}
	}
}

func TestStripArticle(t *testing.T) {
	t.Parallel()

	if got := StripArticle([]string{"the", "healer"}); len(got) != 1 || got[0] != "healer" {
		t.Errorf("StripArticle(the healer) = %v", got)
	}
	if got := StripArticle([]string{"the"}); len(got) != 1 {
		t.Errorf("StripArticle(the) = %v, want unchanged", got)
	}
}

func TestCapitalized(t *testing.T) {
	t.Parallel()

	toks := Tokenize("Élodie and gideon")
	if !toks[0].Capitalized() {
		t.Error("Élodie should be capitalized")
	}
	if toks[2].Capitalized() {
		t.Error("gideon should not be capitalized")
	}
}
