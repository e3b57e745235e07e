// Package fusion merges the partial results of several matchers into one
// [scene.ValidationResult].
//
// A matcher that failed (error, timeout, or degraded result) is excluded from
// the vote for every entity; it is never read as "absent". Its failure is
// reported as a warning and marks the fused result degraded.
package fusion

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Strategy names a combination rule.
type Strategy string

const (
	// Unanimous finds an entity only when every answering matcher does.
	Unanimous Strategy = "unanimous"

	// Majority finds an entity when more than half of the answering matchers
	// do.
	Majority Strategy = "majority"

	// WeightedVote finds an entity when the weight of present votes exceeds
	// half the total weight of the answering matchers.
	WeightedVote Strategy = "weighted_vote"

	// ConfidenceBased lets the single highest-confidence record decide.
	ConfidenceBased Strategy = "confidence_based"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{Unanimous, Majority, WeightedVote, ConfidenceBased}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool { return slices.Contains(Strategies, s) }

// DefaultWeights are the per-matcher vote weights for [WeightedVote].
// Matchers absent from the map weigh 1.0.
var DefaultWeights = map[string]float64{
	"exact":      1.0,
	"descriptor": 0.8,
	"fuzzy":      0.6,
	"semantic":   0.9,
}

// Config selects the strategy and weights.
type Config struct {
	Strategy Strategy
	Weights  map[string]float64
}

// DefaultConfig returns confidence_based fusion with [DefaultWeights].
func DefaultConfig() Config {
	return Config{Strategy: ConfidenceBased, Weights: maps.Clone(DefaultWeights)}
}

// Validate reports configuration errors wrapping [scene.ErrInvalidConfig].
func (c Config) Validate() error {
	var errs []error
	if !c.Strategy.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown combination strategy %q (want one of %v)", scene.ErrInvalidConfig, c.Strategy, Strategies))
	}
	for name, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			errs = append(errs, fmt.Errorf("%w: weight for %q must be a finite non-negative number, got %v", scene.ErrInvalidConfig, name, w))
		}
	}
	return errors.Join(errs...)
}

func (c Config) weight(matcher string) float64 {
	if w, ok := c.Weights[matcher]; ok {
		return w
	}
	if w, ok := DefaultWeights[matcher]; ok {
		return w
	}
	return 1.0
}

// Outcome is one matcher's contribution. A nil Result, a non-nil Err, or a
// degraded Result all count as a failure to answer.
type Outcome struct {
	Matcher string
	Result  *scene.ValidationResult
	Err     error
}

func (o Outcome) failed() bool {
	return o.Err != nil || o.Result == nil || o.Result.Degraded
}

// Fuse combines outcomes for expected under cfg. An invalid cfg falls back to
// [ConfidenceBased]; callers validate configuration up front.
func Fuse(expected []scene.Entity, outcomes []Outcome, cfg Config) *scene.ValidationResult {
	if !cfg.Strategy.Valid() {
		cfg.Strategy = ConfidenceBased
	}

	res := &scene.ValidationResult{
		Metadata: scene.Metadata{Strategy: string(cfg.Strategy)},
	}

	var answered []Outcome
	for _, o := range outcomes {
		res.Metadata.ValidatorChain = append(res.Metadata.ValidatorChain, o.Matcher)
		if o.Result != nil {
			res.Warnings = append(res.Warnings, o.Result.Warnings...)
		}
		if o.failed() {
			res.Degraded = true
			res.Warnings = append(res.Warnings, failureWarning(o))
			continue
		}
		answered = append(answered, o)
		res.MatchRecords = append(res.MatchRecords, o.Result.MatchRecords...)
	}
	slices.SortStableFunc(res.MatchRecords, func(a, b scene.MatchRecord) int {
		return cmp.Compare(a.EntityID, b.EntityID)
	})

	if len(answered) == 0 {
		res.Degraded = true
		return scene.Finalize(res, expected)
	}

	var sum float64
	for _, e := range expected {
		found, conf := decide(e.ID, answered, cfg)
		if found {
			res.EntitiesFound = append(res.EntitiesFound, e.ID)
			sum += conf
		}
	}
	res.Confidence = sum / float64(len(expected))
	return scene.Finalize(res, expected)
}

// decide returns the verdict and confidence for one entity. Every answering
// matcher evaluated every expected entity, so the vote denominators are the
// number (or weight) of answering matchers.
func decide(id string, answered []Outcome, cfg Config) (bool, float64) {
	var (
		present       int
		presentWeight float64
		totalWeight   float64
		best          float64
		anyRecord     bool
	)
	for _, o := range answered {
		w := cfg.weight(o.Matcher)
		totalWeight += w

		conf, ok := entityConfidence(o.Result, id)
		if !ok {
			continue
		}
		present++
		presentWeight += w
		anyRecord = true
		best = max(best, conf)
	}

	var found bool
	switch cfg.Strategy {
	case Unanimous:
		found = present == len(answered)
	case Majority:
		found = 2*present > len(answered)
	case WeightedVote:
		found = totalWeight > 0 && presentWeight > totalWeight/2
	default:
		found = anyRecord
	}
	if !found {
		return false, 0
	}
	return true, scene.Clamp01(best)
}

// entityConfidence reports whether r votes id present, and the highest
// confidence among r's records for it.
func entityConfidence(r *scene.ValidationResult, id string) (float64, bool) {
	if !r.Found(id) {
		return 0, false
	}
	var best float64
	for _, rec := range r.RecordsFor(id) {
		best = max(best, scene.Clamp01(rec.Confidence))
	}
	return best, true
}

func failureWarning(o Outcome) string {
	switch {
	case errors.Is(o.Err, scene.ErrValidatorTimeout):
		return fmt.Sprintf("%s validator timed out", o.Matcher)
	case o.Err != nil:
		return fmt.Sprintf("%s validator failed: %v", o.Matcher, o.Err)
	case o.Result == nil:
		return fmt.Sprintf("%s validator returned no result", o.Matcher)
	default:
		return fmt.Sprintf("%s validator degraded", o.Matcher)
	}
}
