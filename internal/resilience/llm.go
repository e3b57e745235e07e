package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/scenecheck/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first healthy backend. A cancelled ctx stops the
// failover immediately.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Run(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's estimate; it has no failure mode worth
// failing over for.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities returns the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// Check reports an error when every backend's breaker is open. It satisfies
// the readiness checker signature used by the HTTP API.
func (f *LLMFallback) Check(context.Context) error {
	var errs []error
	for _, b := range f.group.Breakers() {
		if b.State() != StateOpen {
			return nil
		}
		errs = append(errs, errors.New(b.Name()+": open"))
	}
	return errors.Join(append([]error{ErrCircuitOpen}, errs...)...)
}
