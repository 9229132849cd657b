package session

import (
	"context"
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/config"
	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/internal/store/memstore"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
	llmmock "github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm/mock"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
	sttmock "github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt/mock"
)

func testConfig() config.Config {
	return config.Config{
		STT: config.STTConfig{
			Model:            "test-model",
			FixedIntervalSec: 0.05,
			LiveTimeout:      time.Second,
		},
		LLM: config.LLMConfig{
			Model:          "test-llm",
			RequestTimeout: time.Second,
		},
		Tune: config.TuningConfig{
			ReconcileWindow:        2 * time.Second,
			AssignOverlapThreshold: 0.3,
			ChunkTargetWords:       1,
			ChunkOverlapWords:      0,
			IdleTimeout:            time.Hour, // not exercised in this test
			DrainTimeout:           time.Second,
			SubscriberQueueSize:    16,
			AudioQueueSeconds:      2,
		},
	}
}

func newTestRegistry(t *testing.T, sttResults []sttmock.Result, llmResponses []llmmock.Response) (*Registry, *sttmock.Provider, *llmmock.Provider, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	lim := limiter.New(4, 4)
	sttProv := &sttmock.Provider{Results: sttResults}
	llmProv := &llmmock.Provider{Responses: llmResponses}

	reg := New(testConfig(), st, lim, nil,
		func(domain.STTSessionConfig) stt.Provider { return sttProv },
		func(domain.LLMSessionConfig) llm.Provider { return llmProv },
	)
	return reg, sttProv, llmProv, st
}

func drainFor(t *testing.T, sub *hub.Subscriber, want hub.EventType, timeout time.Duration) hub.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber closed before seeing %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestRegistry_LiveAudioPipelineProducesGraph(t *testing.T) {
	reg, _, _, st := newTestRegistry(t, []sttmock.Result{{
		Result: &stt.TranscribeResult{Text: "hello world."},
	}}, []llmmock.Response{{
		Content: `{"nodes":[{"node_name":"greeting","summary":"a greeting","source_excerpt":"hello world."}]}`,
	}})

	ctx := context.Background()
	handle, err := reg.Create(ctx, domain.SessionMeta{SpeakerDefault: "speakerA"}, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub := handle.Subscribe()

	silence := make([]byte, 2000) // ~62ms of 16kHz mono 16-bit silence
	if err := handle.PushAudio(silence, time.Now()); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}

	drainFor(t, sub, hub.EventTranscriptFinal, time.Second)
	drainFor(t, sub, hub.EventExistingJSON, time.Second)

	handle.Close("test done")

	conversations, err := st.ListNodes(ctx, handleConversationID(t, reg, handle))
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(conversations) != 1 || conversations[0].NodeName != "greeting" {
		t.Fatalf("expected one 'greeting' node, got %+v", conversations)
	}
}

// handleConversationID reaches into the owner to read the session's
// conversation id for assertion purposes; tests are allowed same-package
// access to unexported fields.
func handleConversationID(t *testing.T, reg *Registry, h *Handle) string {
	t.Helper()
	h2, ok := reg.Get(h.SessionID())
	if !ok {
		t.Fatalf("session not found in registry")
	}
	return h2.owner.session.ConversationID
}

func TestRegistry_DoubleCloseIsIdempotent(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, nil, nil)
	handle, err := reg.Create(context.Background(), domain.SessionMeta{}, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	handle.Close("first")
	handle.Close("second")
}

func TestRegistry_PushAudioAfterCloseReturnsErr(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, nil, nil)
	handle, err := reg.Create(context.Background(), domain.SessionMeta{}, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	handle.Close("done")

	if err := handle.PushAudio(make([]byte, 10), time.Now()); err == nil {
		t.Fatalf("expected error pushing audio to a closed session")
	}
}
