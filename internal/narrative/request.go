package narrative

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/MrWong99/scenecheck/internal/narrative/fusion"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// maxRequestBytes bounds a decoded request body.
const maxRequestBytes = 1 << 20

// Request is the JSON body of a validation call.
//
// Expected entities may be given by id only when Location names a known
// scene; the missing fields are filled in from the scene manifest.
type Request struct {
	Narrative        string         `json:"narrative"`
	ExpectedEntities []scene.Entity `json:"expected_entities"`
	Location         string         `json:"location,omitempty"`
	Config           *RequestConfig `json:"config,omitempty"`
}

// RequestConfig overrides engine defaults for one request. Nil fields keep
// the default.
type RequestConfig struct {
	FuzzyThreshold      *float64           `json:"fuzzy_threshold,omitempty"`
	CombinationStrategy *fusion.Strategy   `json:"combination_strategy,omitempty"`
	ValidatorWeights    map[string]float64 `json:"validator_weights,omitempty"`
	TimeoutMS           *int64             `json:"timeout_ms,omitempty"`
	MaxRetries          *int               `json:"max_retries,omitempty"`
}

// DecodeRequest reads one JSON request from r. Unknown fields are rejected.
// Errors wrap [scene.ErrInvalidInput].
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: decode request: %w", scene.ErrInvalidInput, err)
	}
	if dec.More() {
		return Request{}, fmt.Errorf("%w: decode request: trailing data after JSON object", scene.ErrInvalidInput)
	}
	return req, nil
}

// Apply returns base with the overrides of rc applied. A nil rc returns base
// unchanged. Weights are merged per matcher.
func (rc *RequestConfig) Apply(base Config) (Config, error) {
	if rc == nil {
		return base, nil
	}
	out := base
	out.Weights = maps.Clone(base.Weights)

	var errs []error
	if rc.FuzzyThreshold != nil {
		out.FuzzyThreshold = *rc.FuzzyThreshold
	}
	if rc.CombinationStrategy != nil {
		out.Strategy = *rc.CombinationStrategy
	}
	if len(rc.ValidatorWeights) > 0 {
		if out.Weights == nil {
			out.Weights = make(map[string]float64, len(rc.ValidatorWeights))
		}
		maps.Copy(out.Weights, rc.ValidatorWeights)
	}
	if rc.TimeoutMS != nil {
		if *rc.TimeoutMS <= 0 {
			errs = append(errs, fmt.Errorf("%w: timeout_ms %d must be positive", scene.ErrInvalidConfig, *rc.TimeoutMS))
		} else {
			out.Timeout = time.Duration(*rc.TimeoutMS) * time.Millisecond
		}
	}
	if rc.MaxRetries != nil {
		out.MaxRetries = *rc.MaxRetries
	}
	errs = append(errs, out.Validate())
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return out, nil
}
