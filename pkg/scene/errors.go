package scene

import "errors"

var (
	// ErrInvalidInput is returned when a narrative or entity list is unusable:
	// empty narrative, no expected entities, or duplicate ids.
	ErrInvalidInput = errors.New("scene: invalid input")

	// ErrInvalidConfig is returned for unknown strategies, out-of-range
	// thresholds, or negative weights.
	ErrInvalidConfig = errors.New("scene: invalid config")

	// ErrValidatorTimeout marks a matcher that exceeded its budget. It never
	// reaches callers of the engine; it becomes a warning and degraded=true.
	ErrValidatorTimeout = errors.New("scene: validator timeout")

	// ErrValidatorCrash marks a matcher that failed unexpectedly. Like
	// [ErrValidatorTimeout] it is absorbed into the result.
	ErrValidatorCrash = errors.New("scene: validator crash")
)

// IsSoftFailure reports whether err is a matcher failure that should degrade
// the result rather than abort validation.
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrValidatorTimeout) || errors.Is(err, ErrValidatorCrash)
}
