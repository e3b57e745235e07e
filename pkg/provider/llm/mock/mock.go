// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to feed controlled responses to the semantic
// matcher without a live LLM backend, and to assert on the requests it sent.
// Responses are consumed in order from Script; once Script is exhausted the
// static CompleteResponse/CompleteErr pair is returned.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Reply{
//	        {Err: errors.New("connection reset")},
//	        {Response: &llm.CompletionResponse{Content: `{"entities_present":[]}`}},
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/scenecheck/pkg/provider/llm"
)

// Reply is one scripted answer to Complete.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Configure the exported
// fields before the first call.
type Provider struct {
	mu sync.Mutex

	// Script is consumed front to back, one Reply per Complete call.
	Script []Reply

	// CompleteResponse and CompleteErr are returned when Script is empty.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Delay blocks Complete for the given duration or until ctx is done,
	// whichever comes first. A cancelled ctx yields ctx.Err().
	Delay time.Duration

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	resp, err := p.CompleteResponse, p.CompleteErr
	if len(p.Script) > 0 {
		resp, err = p.Script[0].Response, p.Script[0].Err
		p.Script = p.Script[1:]
	}
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

// CountTokens implements llm.Provider with the shared estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}
