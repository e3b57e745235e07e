// Package fuzzy implements the third validator tier: approximate references
// to entities that the exact and descriptor matchers cannot see.
//
// Techniques are tried per entity in priority order:
//
//  1. Partial names: a narrative word and a name word share a prefix of at
//     least MinPrefix letters ("Gid" for "Gideon", "Aldric" for
//     "Sir Aldric"). Truncations must be capitalised.
//
//  2. String similarity: the best of Jaro-Winkler and normalised Levenshtein
//     similarity (github.com/antzucaro/matchr) between narrative words and
//     the entity's name or descriptors. Scores at or above the fuzzy
//     threshold are mapped linearly into [0.5, 0.9].
//
//  3. Title and possessive patterns: "Sir A.", "Lady Mir", "the healer's
//     staff".
//
// The first technique that produces a hit for an entity wins. Pronoun
// resolution then runs over all entities using the mentions found so far,
// and indefinite references ("someone", "a figure") are reported as
// warnings. An entity's confidence is the maximum over its records; scores
// are never summed.
package fuzzy

import (
	"context"
	"fmt"

	"github.com/MrWong99/scenecheck/internal/narrative/wordmatch"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Name is the matcher name reported in validator chains and metrics.
const Name = "fuzzy"

const (
	defaultMinPrefix          = 3
	defaultFuzzyThreshold     = 0.8
	defaultPartialConfidence  = 0.75
	defaultTitleConfidence    = 0.7
	defaultPronounSame        = 0.6
	defaultPronounBeyond      = 0.4
	similarityConfidenceFloor = 0.5
	similarityConfidenceCeil  = 0.9
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithMinPrefix sets the minimum shared prefix, in letters, for a partial
// name match. Default: 3.
func WithMinPrefix(n int) Option {
	return func(m *Matcher) { m.minPrefix = n }
}

// WithFuzzyThreshold sets the minimum similarity score accepted by the
// similarity technique. Default: 0.8.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// WithPartialConfidence sets the confidence of partial-name matches.
// Default: 0.75.
func WithPartialConfidence(c float64) Option {
	return func(m *Matcher) { m.partialConf = c }
}

// WithTitleConfidence sets the confidence of title and possessive pattern
// matches. Default: 0.7.
func WithTitleConfidence(c float64) Option {
	return func(m *Matcher) { m.titleConf = c }
}

// WithPronounConfidence sets the confidence of pronoun resolutions whose
// antecedent is in the same sentence and in an earlier sentence.
// Defaults: 0.6 and 0.4.
func WithPronounConfidence(sameSentence, beyond float64) Option {
	return func(m *Matcher) {
		m.pronounSame = sameSentence
		m.pronounBeyond = beyond
	}
}

// WithDescriptorSource sets the function used to obtain an entity's
// descriptor phrases. The default uses the entity's own Descriptors.
// The engine passes the descriptor matcher's lookup so both tiers agree on
// role-table phrases.
func WithDescriptorSource(fn func(scene.Entity) []string) Option {
	return func(m *Matcher) { m.descriptors = fn }
}

// Matcher is the fuzzy matcher. It is read-only after construction and safe
// for concurrent use.
type Matcher struct {
	minPrefix     int
	threshold     float64
	partialConf   float64
	titleConf     float64
	pronounSame   float64
	pronounBeyond float64
	descriptors   func(scene.Entity) []string
}

var _ scene.Matcher = (*Matcher)(nil)

// New returns a fuzzy matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		minPrefix:     defaultMinPrefix,
		threshold:     defaultFuzzyThreshold,
		partialConf:   defaultPartialConfidence,
		titleConf:     defaultTitleConfidence,
		pronounSame:   defaultPronounSame,
		pronounBeyond: defaultPronounBeyond,
		descriptors:   ownDescriptors,
	}
	for _, o := range opts {
		o(m)
	}
	if m.minPrefix < 1 {
		m.minPrefix = 1
	}
	return m
}

// Name implements [scene.Matcher].
func (*Matcher) Name() string { return Name }

// Validate implements [scene.Matcher].
func (m *Matcher) Validate(ctx context.Context, narrative string, expected []scene.Entity, _ scene.EntityManifest) (*scene.ValidationResult, error) {
	if err := scene.CheckInput(narrative, expected); err != nil {
		return nil, fmt.Errorf("fuzzy: %w", err)
	}

	doc := newDocument(narrative)
	var records []scene.MatchRecord
	for _, e := range expected {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fuzzy: %w", err)
		}
		records = append(records, m.matchEntity(doc, e)...)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fuzzy: %w", err)
	}
	pronounRecs, warnings := m.resolvePronouns(doc, expected, records)
	records = append(records, pronounRecs...)

	matched := make(map[string]bool, len(records))
	for _, r := range records {
		matched[r.EntityID] = true
	}
	if len(matched) < len(expected) {
		warnings = append(warnings, indefiniteWarnings(doc)...)
	}

	return scene.NewResult(Name, expected, records, warnings), nil
}

// matchEntity runs the name-based techniques for e in priority order and
// returns the records of the first one that hits.
func (m *Matcher) matchEntity(doc *document, e scene.Entity) []scene.MatchRecord {
	if recs := m.partial(doc, e); len(recs) > 0 {
		return recs
	}
	if recs := m.similar(doc, e); len(recs) > 0 {
		return recs
	}
	return m.titled(doc, e)
}

// document is a tokenized narrative with a lookup from token start offsets
// to token indices.
type document struct {
	text    string
	tokens  []wordmatch.Token
	byStart map[int]int
}

func newDocument(text string) *document {
	toks := wordmatch.Tokenize(text)
	byStart := make(map[int]int, len(toks))
	for i, t := range toks {
		byStart[t.Start] = i
	}
	return &document{text: text, tokens: toks, byStart: byStart}
}

func (d *document) record(e scene.Entity, mt scene.MatchType, conf float64, sp scene.Span) scene.MatchRecord {
	return scene.MatchRecord{
		EntityID:   e.ID,
		MatchType:  mt,
		Confidence: conf,
		Span:       &sp,
		Matcher:    Name,
		Term:       d.text[sp.Start:sp.End],
	}
}

func ownDescriptors(e scene.Entity) []string { return e.Descriptors }
