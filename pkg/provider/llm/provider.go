// Package llm defines the Provider interface the graph builder uses to
// issue a single JSON-mode chat completion against a configured LLM
// endpoint.
//
// Unlike a general-purpose tool-calling orchestrator, the graph builder
// never offers the model tools and never branches on a multi-turn
// conversation: each call is system prompt + running-graph summary + chunk
// text in, one JSON object out. The interface is kept narrow on purpose so
// that any OpenAI-compatible chat-completions endpoint can back it.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is a single chat-completion message.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything needed to produce one JSON-mode
// completion. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The graph builder sends exactly
	// one: a system instruction describing the schema plus the compact
	// graph summary, followed by the chunk text as a user message.
	Messages []Message

	// JSONMode requests the provider's structured-output mode
	// (response_format: json_object) when true.
	JSONMode bool

	// Temperature controls output randomness; 0 requests greedy decoding.
	Temperature float64

	// MaxTokens caps completion length; 0 uses the provider default.
	MaxTokens int
}

// Chunk is one increment of a streaming completion. The graph builder
// buffers Chunks and only attempts to parse once FinishReason is non-empty.
type Chunk struct {
	// Text is the incremental text of this chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", "error").
	FinishReason string
}

// CompletionResponse is the full result of a non-streaming call.
type CompletionResponse struct {
	// Content is the assistant's full reply text.
	Content string

	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over any LLM chat-completions backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled, StreamCompletion must close its channel and Complete must
// return as soon as the in-flight HTTP call observes cancellation.
type Provider interface {
	// Complete sends req and waits for the full response. This is the path
	// the graph builder uses in the common case.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req and returns a channel of incremental
	// Chunks, closed by the implementation when generation finishes or ctx
	// is cancelled. Errors after the channel opens are surfaced as a final
	// Chunk with FinishReason "error"; the initial error return is non-nil
	// only for failures that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
