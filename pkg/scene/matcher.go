package scene

import "context"

// Matcher is the contract shared by every validation technique.
//
// Validate inspects narrative for the expected entities and returns an
// advisory result. Implementations return an error wrapping [ErrInvalidInput]
// for unusable input; any other failure should be reported through the
// result (warnings, Degraded) rather than as an error, although callers treat
// unexpected errors as soft failures.
//
// Implementations must be safe for concurrent use and must honour ctx.
type Matcher interface {
	Name() string
	Validate(ctx context.Context, narrative string, expected []Entity, manifest EntityManifest) (*ValidationResult, error)
}

// PromptVariant selects how a retry-capable matcher phrases its request.
type PromptVariant int

const (
	// VariantStandard is the full prompt used on the first attempt.
	VariantStandard PromptVariant = iota

	// VariantSimple is a shorter, stricter prompt used after a malformed
	// response.
	VariantSimple
)

// String implements [fmt.Stringer].
func (v PromptVariant) String() string {
	if v == VariantSimple {
		return "simple"
	}
	return "standard"
}

// OutcomeKind classifies a single matcher attempt.
type OutcomeKind int

const (
	// OutcomeOK carries a usable result.
	OutcomeOK OutcomeKind = iota

	// OutcomeRetryable is a transient failure (network, rate limit, deadline).
	OutcomeRetryable

	// OutcomeMalformed means the backend answered but the answer could not be
	// parsed. It is retried once with [VariantSimple].
	OutcomeMalformed

	// OutcomeFatal must not be retried.
	OutcomeFatal
)

// String implements [fmt.Stringer].
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the explicit result of one attempt by an [Attempter]. Result is
// set only when Kind is [OutcomeOK]; Err is set otherwise.
type Outcome struct {
	Kind   OutcomeKind
	Result *ValidationResult
	Err    error
}

// Attempter is implemented by matchers whose backend can fail transiently.
// A single call performs exactly one attempt; the escalation controller owns
// the retry policy.
type Attempter interface {
	Matcher
	Attempt(ctx context.Context, narrative string, expected []Entity, manifest EntityManifest, variant PromptVariant) Outcome
}
