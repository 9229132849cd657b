package graphbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/internal/store"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
)

// Config mirrors [domain.LLMSessionConfig] for the duration of one session.
type Config struct {
	Model          string
	RequestTimeout time.Duration
}

// Builder owns the per-session LLM graph-building pipeline: it accepts
// emitted chunks, guarantees at most one LLM call in flight at a time,
// coalesces chunks that arrive while a call is outstanding, merges the
// parsed response into the running graph, persists it, and publishes the
// resulting hub events.
//
// Submit never blocks on the LLM call itself; the call runs on a goroutine
// owned by the Builder so the session's owner goroutine can keep ingesting
// audio and transcript events while a completion is outstanding.
type Builder struct {
	sessionID      string
	conversationID string
	cfg            Config
	provider       llm.Provider
	lim            *limiter.Limiter
	graphStore     store.GraphStore
	chunkStore     store.ChunkStore
	h              *hub.Hub
	logger         *slog.Logger

	mu            sync.Mutex
	graph         *runningGraph
	pending       []domain.Chunk
	inFlight      bool
	closed        bool
	wg            sync.WaitGroup
	callStartedAt time.Time
	callCancel    context.CancelFunc
}

// New constructs a Builder for one session's conversation.
func New(sessionID, conversationID string, cfg Config, provider llm.Provider, lim *limiter.Limiter, gs store.GraphStore, cs store.ChunkStore, h *hub.Hub, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		sessionID:      sessionID,
		conversationID: conversationID,
		cfg:            cfg,
		provider:       provider,
		lim:            lim,
		graphStore:     gs,
		chunkStore:     cs,
		h:              h,
		logger:         logger,
		graph:          newRunningGraph(conversationID),
	}
}

// Submit enqueues c for graph extraction. If no call is currently in
// flight for this session, a background worker starts immediately; if one
// is already running, c is coalesced with any other pending chunks and
// processed in the next round.
func (b *Builder) Submit(ctx context.Context, c domain.Chunk) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if err := b.chunkStore.SaveChunk(ctx, c); err != nil {
		b.logger.Error("graphbuilder: save chunk", "session_id", b.sessionID, "chunk_id", c.ChunkID, "error", err)
	}
	b.pending = append(b.pending, c)
	if b.inFlight {
		b.mu.Unlock()
		return
	}
	b.inFlight = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(context.WithoutCancel(ctx))
}

// Close waits for any in-flight or queued work to finish. Callers should
// use a bounded context upstream (the session's drain timeout) since run()
// does not itself enforce a deadline beyond cfg.RequestTimeout per call.
func (b *Builder) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

// CancelIfStale aborts the in-flight LLM call if it has been running for at
// least grace; a call younger than grace is left to complete so its output
// is still persisted. Returns whether a call was actually canceled. Called
// once, at the moment a session starts closing — it does not poll.
func (b *Builder) CancelIfStale(grace time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callCancel == nil || time.Since(b.callStartedAt) < grace {
		return false
	}
	b.callCancel()
	return true
}

// run drains b.pending one coalesced round at a time until empty, issuing
// one LLM call per round. It is only ever running on one goroutine per
// Builder (guaranteed by the inFlight flag in Submit).
func (b *Builder) run(ctx context.Context) {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.inFlight = false
			b.mu.Unlock()
			return
		}
		round := b.pending
		b.pending = nil
		b.mu.Unlock()

		b.processRound(ctx, round)
	}
}

// processRound issues one LLM call for the coalesced chunks in round,
// merges the result, persists it, and publishes hub events. A failed or
// unparseable response is reported as a processing_status warning and the
// round's chunks are dropped — they already persisted via SaveChunk, so no
// data is lost, only the graph extraction for that text.
func (b *Builder) processRound(ctx context.Context, round []domain.Chunk) {
	text := coalesceText(round)
	last := round[len(round)-1]

	release, err := b.lim.AcquireLLMFlight(ctx)
	if err != nil {
		b.publishWarning("llm", fmt.Sprintf("could not acquire llm slot: %v", err))
		return
	}
	defer release()

	callCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.callStartedAt = time.Now()
	b.callCancel = cancel
	b.mu.Unlock()

	resp, err := b.completeWithRetry(callCtx, text)

	b.mu.Lock()
	b.callCancel = nil
	b.mu.Unlock()
	cancel()

	if err != nil {
		b.logger.Warn("graphbuilder: llm call failed", "session_id", b.sessionID, "error", err)
		b.publishWarning("llm", fmt.Sprintf("graph extraction failed: %v", err))
		return
	}

	b.mu.Lock()
	updated := b.graph.merge(last, *resp, time.Now())
	all := b.graph.nodes()
	snapshot := b.graph.chunkDictSnapshot()
	b.mu.Unlock()

	for _, n := range updated {
		if err := b.graphStore.UpsertNode(ctx, n); err != nil {
			b.logger.Error("graphbuilder: upsert node", "session_id", b.sessionID, "node_name", n.NodeName, "error", err)
		}
	}

	if len(updated) > 0 {
		b.h.Publish(hub.EventExistingJSON, hub.ExistingJSONPayload{Data: all})
	}
	b.h.Publish(hub.EventChunkDict, hub.ChunkDictPayload{Data: snapshot})
}

// completeWithRetry issues the LLM call and parses its response, allowing
// exactly one corrective retry when the first response fails to parse as
// valid JSON.
func (b *Builder) completeWithRetry(ctx context.Context, chunkText string) (*llmResponse, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	b.mu.Lock()
	existing := b.graph.nodes()
	b.mu.Unlock()

	req := b.buildRequest(existing, chunkText, "")
	result, err := b.provider.Complete(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("graphbuilder: complete: %w", err)
	}

	resp, perr := parseResponse(result.Content)
	if perr == nil {
		return resp, nil
	}

	retryReq := b.buildRequest(existing, chunkText, fmt.Sprintf("Your previous reply failed to parse as JSON (%v). Reply again with only the JSON object, no surrounding text.", perr))
	result, err = b.provider.Complete(callCtx, retryReq)
	if err != nil {
		return nil, fmt.Errorf("graphbuilder: retry complete: %w", err)
	}
	resp, perr = parseResponse(result.Content)
	if perr != nil {
		return nil, fmt.Errorf("graphbuilder: parse after retry: %w", perr)
	}
	return resp, nil
}

const systemPrompt = `You extract a topic graph from a live conversation transcript.
Reply with a single JSON object and nothing else, matching this shape:
{
  "nodes": [
    {
      "node_name": string,
      "summary": string,
      "speaker_id": string or null,
      "source_excerpt": string,
      "predecessor": string or null,
      "successor": string or null,
      "edge_relations": [{"related_node": string, "relation_type": "supports"|"rebuts"|"clarifies"|"asks"|"tangent"|"return_to_thread"|"contextual"|"temporal_next", "relation_text": string}],
      "is_bookmark": bool,
      "is_contextual_progress": bool
    }
  ],
  "chunk_dict": {"<chunk_id>": "<verbatim chunk text>"}
}
node_name must be stable across calls for the same topic so nodes merge instead of duplicating.`

// buildRequest assembles the messages for one completion call: the system
// instruction, a compact summary of the existing graph so the model can
// merge rather than duplicate nodes, and the new chunk text. note, when
// non-empty, is appended as a corrective instruction for a retry.
func (b *Builder) buildRequest(existing []domain.Node, chunkText, note string) llm.CompletionRequest {
	var sb strings.Builder
	sb.WriteString("Existing nodes (name: summary):\n")
	if len(existing) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, n := range existing {
		fmt.Fprintf(&sb, "- %s: %s\n", n.NodeName, n.Summary)
	}
	sb.WriteString("\nNew chunk:\n")
	sb.WriteString(chunkText)
	if note != "" {
		sb.WriteString("\n\n")
		sb.WriteString(note)
	}

	return llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		JSONMode:    true,
		Temperature: 0,
	}
}

// publishWarning emits a processing_status{level:warning} hub event.
func (b *Builder) publishWarning(stage, message string) {
	b.h.Publish(hub.EventProcessingStatus, hub.ProcessingStatusPayload{
		Level:   hub.LevelWarning,
		Message: message,
		Context: map[string]string{"stage": stage},
	})
}

// coalesceText concatenates a coalesced round's chunk texts, deduplicating
// a leading run of words in chunk[i] that already ends the accumulated
// text of chunk[i-1] — the accumulator's own word-overlap retention can
// otherwise double the overlap once more across a coalesced LLM call.
func coalesceText(round []domain.Chunk) string {
	if len(round) == 1 {
		return round[0].Text
	}
	acc := round[0].Text
	for _, c := range round[1:] {
		acc = appendDedupOverlap(acc, c.Text)
	}
	return acc
}

func appendDedupOverlap(acc, next string) string {
	accWords := strings.Fields(acc)
	nextWords := strings.Fields(next)
	maxOverlap := len(nextWords)
	if len(accWords) < maxOverlap {
		maxOverlap = len(accWords)
	}
	for n := maxOverlap; n > 0; n-- {
		if strings.Join(accWords[len(accWords)-n:], " ") == strings.Join(nextWords[:n], " ") {
			return acc + " " + strings.Join(nextWords[n:], " ")
		}
	}
	return acc + " " + next
}

// parseResponse parses raw LLM output into a typed llmResponse, tolerating
// a leading/trailing markdown code fence around the JSON object.
func parseResponse(raw string) (*llmResponse, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var resp llmResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
