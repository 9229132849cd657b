// Package mock provides a test double for [stt.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// Provider is a configurable [stt.Provider] test double. Results is
// consumed in order by successive Transcribe calls.
type Provider struct {
	mu sync.Mutex

	Results []Result
	Calls   []stt.TranscribeRequest
}

// Result is one scripted response (or error).
type Result struct {
	Result *stt.TranscribeResult
	Err    error
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(_ context.Context, req stt.TranscribeRequest) (*stt.TranscribeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if len(p.Results) == 0 {
		return &stt.TranscribeResult{}, nil
	}
	r := p.Results[0]
	p.Results = p.Results[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Result, nil
}
