package resilience

import (
	"context"

	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
)

// BreakerLLMProvider wraps an [llm.Provider] with a [CircuitBreaker], for
// the same reason as [BreakerSTTProvider]: this module targets exactly one
// `LLM_DEFAULT_URL`, so the value is fail-fast rather than failover.
//
// The graph builder already enforces per-session at-most-one-in-flight;
// the breaker adds a signal, scoped to the session whose provider it wraps,
// that the endpoint itself is unhealthy, independent of that session's
// retry-once-on-bad-JSON policy.
type BreakerLLMProvider struct {
	inner llm.Provider
	cb    *CircuitBreaker
}

var _ llm.Provider = (*BreakerLLMProvider)(nil)

// NewBreakerLLMProvider wraps inner with a breaker named name.
func NewBreakerLLMProvider(inner llm.Provider, name string, cfg CircuitBreakerConfig) *BreakerLLMProvider {
	cfg.Name = name
	return &BreakerLLMProvider{inner: inner, cb: NewCircuitBreaker(cfg)}
}

// Complete implements [llm.Provider].
func (p *BreakerLLMProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var result *llm.CompletionResponse
	err := p.cb.Execute(func() error {
		r, err := p.inner.Complete(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StreamCompletion implements [llm.Provider]. The breaker observes only
// whether the stream could be started — only the initial connection
// attempt is covered; mid-stream errors surface as a final error Chunk
// per the [llm.Provider] contract and are the caller's responsibility.
func (p *BreakerLLMProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var ch <-chan llm.Chunk
	err := p.cb.Execute(func() error {
		c, err := p.inner.StreamCompletion(ctx, req)
		if err != nil {
			return err
		}
		ch = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// State reports the breaker's current state.
func (p *BreakerLLMProvider) State() State { return p.cb.State() }
