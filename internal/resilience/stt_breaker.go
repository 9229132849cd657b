package resilience

import (
	"context"

	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// BreakerSTTProvider wraps an [stt.Provider] with a [CircuitBreaker].
//
// This module configures exactly one STT backend (a single
// `STT_DEFAULT_URL`), so there is no fallback chain to fail over into.
// What the breaker still buys here is the "STT transport error... pipeline
// continues" contract: once a provider trips the breaker, subsequent
// flushes fail fast with [ErrCircuitOpen] instead of blocking a session's
// owner goroutine on a doomed HTTP call for the full `timeout_seconds` on
// every flush.
type BreakerSTTProvider struct {
	inner stt.Provider
	cb    *CircuitBreaker
}

var _ stt.Provider = (*BreakerSTTProvider)(nil)

// NewBreakerSTTProvider wraps inner with a breaker named name.
func NewBreakerSTTProvider(inner stt.Provider, name string, cfg CircuitBreakerConfig) *BreakerSTTProvider {
	cfg.Name = name
	return &BreakerSTTProvider{inner: inner, cb: NewCircuitBreaker(cfg)}
}

// Transcribe implements [stt.Provider].
func (p *BreakerSTTProvider) Transcribe(ctx context.Context, req stt.TranscribeRequest) (*stt.TranscribeResult, error) {
	var result *stt.TranscribeResult
	err := p.cb.Execute(func() error {
		r, err := p.inner.Transcribe(ctx, req)
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

// State reports the breaker's current state.
func (p *BreakerSTTProvider) State() State { return p.cb.State() }
