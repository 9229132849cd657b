// Package mock provides a test double for [llm.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
)

// Provider is a configurable [llm.Provider] test double. Responses is
// consumed in order by successive Complete/StreamCompletion calls; the last
// entry repeats once exhausted. All fields are safe to set before the first
// call; mutating Responses during a concurrent call is the caller's
// responsibility.
type Provider struct {
	mu sync.Mutex

	// Responses is the queue of responses (or errors) returned in order.
	Responses []Response

	// Calls records every CompletionRequest received, in order.
	Calls []llm.CompletionRequest
}

// Response is one scripted result.
type Response struct {
	Content string
	Err     error
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	r := p.next()
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content}, nil
}

// StreamCompletion implements [llm.Provider] by emitting the scripted
// content as a single chunk followed by a "stop" terminator.
func (p *Provider) StreamCompletion(_ context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	r := p.next()
	p.mu.Unlock()

	ch := make(chan llm.Chunk, 2)
	if r.Err != nil {
		ch <- llm.Chunk{FinishReason: "error", Text: r.Err.Error()}
		close(ch)
		return ch, nil
	}
	ch <- llm.Chunk{Text: r.Content}
	ch <- llm.Chunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// next pops the earliest unconsumed Response, holding the last one steady
// once the queue is exhausted. Caller must hold p.mu.
func (p *Provider) next() Response {
	if len(p.Responses) == 0 {
		return Response{Content: "{}"}
	}
	r := p.Responses[0]
	if len(p.Responses) > 1 {
		p.Responses = p.Responses[1:]
	}
	return r
}
