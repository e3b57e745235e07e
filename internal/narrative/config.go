package narrative

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/MrWong99/scenecheck/internal/narrative/descriptor"
	"github.com/MrWong99/scenecheck/internal/narrative/escalate"
	"github.com/MrWong99/scenecheck/internal/narrative/fusion"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// Defaults for the lexical matchers.
const (
	DefaultFuzzyThreshold = 0.8
	DefaultMinPrefix      = 3
)

// Thresholds are the fused confidences at which each tier stops escalation.
type Thresholds struct {
	Exact      float64 `json:"exact"`
	Descriptor float64 `json:"descriptor"`
	Fuzzy      float64 `json:"fuzzy"`
	Semantic   float64 `json:"semantic"`
}

// Budgets are the per-call time limits of the lexical tiers.
type Budgets struct {
	Exact      time.Duration `json:"exact"`
	Descriptor time.Duration `json:"descriptor"`
	Fuzzy      time.Duration `json:"fuzzy"`
}

// Config is the complete set of tunables for one validation. The engine holds
// a default Config; requests may override a subset of it.
type Config struct {
	// FuzzyThreshold is the minimum similarity score for a fuzzy match.
	FuzzyThreshold float64 `json:"fuzzy_threshold"`

	// MinPrefix is the shortest accepted truncated name.
	MinPrefix int `json:"min_prefix"`

	// DescriptorConfidence is assigned to descriptor and role-table matches.
	DescriptorConfidence float64 `json:"descriptor_confidence"`

	// Strategy and Weights configure fusion.
	Strategy fusion.Strategy    `json:"combination_strategy"`
	Weights  map[string]float64 `json:"validator_weights"`

	// Thresholds stop escalation once the fused confidence reaches them.
	Thresholds Thresholds `json:"thresholds"`

	// Budgets bound each lexical matcher call. The semantic tier uses Timeout.
	Budgets Budgets `json:"budgets"`

	// Timeout bounds each semantic attempt.
	Timeout time.Duration `json:"timeout"`

	// MaxRetries and BackoffBase drive the semantic retry policy.
	MaxRetries  int           `json:"max_retries"`
	BackoffBase time.Duration `json:"backoff_base"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:       DefaultFuzzyThreshold,
		MinPrefix:            DefaultMinPrefix,
		DescriptorConfidence: descriptor.DefaultConfidence,
		Strategy:             fusion.ConfidenceBased,
		Weights:              maps.Clone(fusion.DefaultWeights),
		Thresholds: Thresholds{
			Exact:      escalate.DefaultThreshold,
			Descriptor: escalate.DefaultThreshold,
			Fuzzy:      escalate.DefaultThreshold,
			Semantic:   escalate.DefaultThreshold,
		},
		Budgets: Budgets{
			Exact:      escalate.DefaultLexicalBudget,
			Descriptor: escalate.DefaultLexicalBudget,
			Fuzzy:      escalate.DefaultFuzzyBudget,
		},
		Timeout:     escalate.DefaultSemanticBudget,
		MaxRetries:  escalate.DefaultMaxRetries,
		BackoffBase: escalate.DefaultBackoffBase,
	}
}

// Validate reports every invalid field. Errors wrap [scene.ErrInvalidConfig].
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{scene.ErrInvalidConfig}, args...)...))
	}

	if !unitInterval(c.FuzzyThreshold) || c.FuzzyThreshold == 0 {
		bad("fuzzy_threshold %v must be in (0, 1]", c.FuzzyThreshold)
	}
	if c.MinPrefix < 1 {
		bad("min_prefix %d must be at least 1", c.MinPrefix)
	}
	if !unitInterval(c.DescriptorConfidence) || c.DescriptorConfidence == 0 {
		bad("descriptor_confidence %v must be in (0, 1]", c.DescriptorConfidence)
	}
	errs = append(errs, fusion.Config{Strategy: c.Strategy, Weights: c.Weights}.Validate())

	for _, t := range []struct {
		name string
		v    float64
	}{
		{"exact", c.Thresholds.Exact},
		{"descriptor", c.Thresholds.Descriptor},
		{"fuzzy", c.Thresholds.Fuzzy},
		{"semantic", c.Thresholds.Semantic},
	} {
		if !unitInterval(t.v) {
			bad("thresholds.%s %v must be in [0, 1]", t.name, t.v)
		}
	}
	for _, b := range []struct {
		name string
		d    time.Duration
	}{
		{"exact", c.Budgets.Exact},
		{"descriptor", c.Budgets.Descriptor},
		{"fuzzy", c.Budgets.Fuzzy},
	} {
		if b.d <= 0 {
			bad("budgets.%s must be positive", b.name)
		}
	}
	if c.Timeout <= 0 {
		bad("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		bad("max_retries %d must not be negative", c.MaxRetries)
	}
	if c.BackoffBase < 0 {
		bad("backoff_base must not be negative")
	}
	return errors.Join(errs...)
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// fusion returns the fusion part of c.
func (c Config) fusion() fusion.Config {
	return fusion.Config{Strategy: c.Strategy, Weights: c.Weights}
}
