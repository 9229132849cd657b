package graphbuilder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/internal/store/memstore"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm/mock"
)

// blockingProvider is a test double whose Complete call only returns once
// unblock is closed (simulating a slow LLM) or the passed context is
// canceled, whichever comes first — used to exercise [Builder.CancelIfStale]
// deterministically.
type blockingProvider struct {
	unblock chan struct{}
	content string
}

func (p *blockingProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	select {
	case <-p.unblock:
		return &llm.CompletionResponse{Content: p.content}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, errors.New("blockingProvider: streaming not supported")
}

func newTestBuilder(t *testing.T, provider *mock.Provider) (*Builder, *hub.Hub, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	h := hub.New("sess1", 16)
	b := New("sess1", "conv1", Config{RequestTimeout: time.Second}, provider, limiter.New(4, 4), st, st, h, nil)
	return b, h, st
}

func drainUntil(t *testing.T, h *hub.Hub, sub *hub.Subscriber, want hub.EventType, timeout time.Duration) hub.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber channel closed before seeing %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestBuilder_SingleChunkMergesNode(t *testing.T) {
	provider := &mock.Provider{Responses: []mock.Response{{
		Content: `{"nodes":[{"node_name":"budget","summary":"discussed Q3 budget","source_excerpt":"let's talk budget"}],"chunk_dict":{"chunk-1":"let's talk budget"}}`,
	}}}
	b, h, st := newTestBuilder(t, provider)
	sub := h.Subscribe()

	b.Submit(context.Background(), domain.Chunk{ChunkID: "chunk-1", SessionID: "sess1", ConversationID: "conv1", Text: "let's talk budget"})

	drainUntil(t, h, sub, hub.EventExistingJSON, time.Second)
	b.Close()

	nodes, err := st.ListNodes(context.Background(), "conv1")
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].NodeName != "budget" {
		t.Fatalf("expected one 'budget' node, got %+v", nodes)
	}
}

func TestBuilder_SecondChunkUpdatesSameNode(t *testing.T) {
	provider := &mock.Provider{Responses: []mock.Response{
		{Content: `{"nodes":[{"node_name":"budget","summary":"v1","source_excerpt":"a"}]}`},
		{Content: `{"nodes":[{"node_name":"budget","summary":"v2","source_excerpt":"b"}]}`},
	}}
	b, h, st := newTestBuilder(t, provider)
	sub := h.Subscribe()

	ctx := context.Background()
	b.Submit(ctx, domain.Chunk{ChunkID: "chunk-1", ConversationID: "conv1", Text: "a"})
	drainUntil(t, h, sub, hub.EventExistingJSON, time.Second)

	b.Submit(ctx, domain.Chunk{ChunkID: "chunk-2", ConversationID: "conv1", Text: "b"})
	drainUntil(t, h, sub, hub.EventExistingJSON, time.Second)
	b.Close()

	nodes, _ := st.ListNodes(ctx, "conv1")
	if len(nodes) != 1 {
		t.Fatalf("expected node to be updated in place, got %d nodes", len(nodes))
	}
	if nodes[0].Summary != "v2" {
		t.Fatalf("expected latest summary, got %q", nodes[0].Summary)
	}
	if len(nodes[0].ChunkIDs) != 2 {
		t.Fatalf("expected both contributing chunks tracked, got %v", nodes[0].ChunkIDs)
	}
}

func TestBuilder_MalformedJSONRetriesOnce(t *testing.T) {
	provider := &mock.Provider{Responses: []mock.Response{
		{Content: "not json at all"},
		{Content: `{"nodes":[{"node_name":"recovered","summary":"ok","source_excerpt":"x"}]}`},
	}}
	b, h, st := newTestBuilder(t, provider)
	sub := h.Subscribe()

	b.Submit(context.Background(), domain.Chunk{ChunkID: "chunk-1", ConversationID: "conv1", Text: "x"})
	drainUntil(t, h, sub, hub.EventExistingJSON, time.Second)
	b.Close()

	if len(provider.Calls) != 2 {
		t.Fatalf("expected exactly one retry (2 calls total), got %d", len(provider.Calls))
	}
	nodes, _ := st.ListNodes(context.Background(), "conv1")
	if len(nodes) != 1 || nodes[0].NodeName != "recovered" {
		t.Fatalf("expected retry's node to merge, got %+v", nodes)
	}
}

func TestBuilder_BothResponsesMalformedEmitsWarning(t *testing.T) {
	provider := &mock.Provider{Responses: []mock.Response{
		{Content: "nope"},
		{Content: "still nope"},
	}}
	b, h, _ := newTestBuilder(t, provider)
	sub := h.Subscribe()

	b.Submit(context.Background(), domain.Chunk{ChunkID: "chunk-1", ConversationID: "conv1", Text: "x"})
	evt := drainUntil(t, h, sub, hub.EventProcessingStatus, time.Second)
	b.Close()

	payload, ok := evt.Payload.(hub.ProcessingStatusPayload)
	if !ok || payload.Level != hub.LevelWarning {
		t.Fatalf("expected a warning processing_status, got %+v", evt)
	}
}

func TestBuilder_CoalescesChunksSubmittedWhileInFlight(t *testing.T) {
	provider := &mock.Provider{Responses: []mock.Response{
		{Content: `{"nodes":[{"node_name":"n1","summary":"s","source_excerpt":"first"}]}`},
	}}
	b, h, st := newTestBuilder(t, provider)
	sub := h.Subscribe()

	ctx := context.Background()
	b.Submit(ctx, domain.Chunk{ChunkID: "chunk-1", ConversationID: "conv1", Text: "first chunk text"})
	b.Submit(ctx, domain.Chunk{ChunkID: "chunk-2", ConversationID: "conv1", Text: "second chunk text"})

	drainUntil(t, h, sub, hub.EventExistingJSON, time.Second)
	b.Close()

	nodes, _ := st.ListNodes(ctx, "conv1")
	if len(nodes) == 0 {
		t.Fatalf("expected at least one node from the coalesced round")
	}
	// Looking up the node from the single coalesced LLM round must not fail.
	if _, err := st.GetNode(ctx, "conv1", "n1"); err != nil {
		t.Fatalf("GetNode: %v", err)
	}
}

func TestBuilder_CancelIfStaleAbortsRunningCall(t *testing.T) {
	provider := &blockingProvider{unblock: make(chan struct{})}
	st := memstore.New()
	h := hub.New("sess1", 16)
	b := New("sess1", "conv1", Config{}, provider, limiter.New(4, 4), st, st, h, nil)
	sub := h.Subscribe()

	b.Submit(context.Background(), domain.Chunk{ChunkID: "chunk-1", ConversationID: "conv1", Text: "x"})
	waitUntilInFlight(t, b, time.Second)

	if !b.CancelIfStale(0) {
		t.Fatalf("expected CancelIfStale(0) to cancel a call that is already in flight")
	}

	evt := drainUntil(t, h, sub, hub.EventProcessingStatus, time.Second)
	payload, ok := evt.Payload.(hub.ProcessingStatusPayload)
	if !ok || payload.Level != hub.LevelWarning {
		t.Fatalf("expected a warning processing_status after the call was canceled, got %+v", evt)
	}
	b.Close()
}

func TestBuilder_CancelIfStaleLeavesFreshCallRunning(t *testing.T) {
	provider := &blockingProvider{
		unblock: make(chan struct{}),
		content: `{"nodes":[{"node_name":"n1","summary":"s","source_excerpt":"x"}]}`,
	}
	st := memstore.New()
	h := hub.New("sess1", 16)
	b := New("sess1", "conv1", Config{}, provider, limiter.New(4, 4), st, st, h, nil)
	sub := h.Subscribe()

	b.Submit(context.Background(), domain.Chunk{ChunkID: "chunk-1", ConversationID: "conv1", Text: "x"})
	waitUntilInFlight(t, b, time.Second)

	if b.CancelIfStale(time.Hour) {
		t.Fatalf("CancelIfStale(time.Hour) canceled a call that had just started")
	}

	close(provider.unblock)
	drainUntil(t, h, sub, hub.EventExistingJSON, time.Second)
	b.Close()

	nodes, _ := st.ListNodes(context.Background(), "conv1")
	if len(nodes) != 1 || nodes[0].NodeName != "n1" {
		t.Fatalf("expected the uncanceled call's node to persist, got %+v", nodes)
	}
}

// waitUntilInFlight polls until processRound has registered its call-cancel
// func under b's mutex, accommodating the small window between Submit
// launching its goroutine and that registration happening.
func waitUntilInFlight(t *testing.T, b *Builder, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		registered := b.callCancel != nil
		b.mu.Unlock()
		if registered {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the llm call to register as in-flight")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAppendDedupOverlap(t *testing.T) {
	got := appendDedupOverlap("the quick brown fox", "brown fox jumps")
	want := "the quick brown fox jumps"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAppendDedupOverlap_NoOverlap(t *testing.T) {
	got := appendDedupOverlap("alpha beta", "gamma delta")
	want := "alpha beta gamma delta"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
