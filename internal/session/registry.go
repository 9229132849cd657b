package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anantham/live-conversational-threads-sub000/internal/config"
	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/graphbuilder"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/internal/store"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// STTProviderFactory builds a session-scoped STT provider from that
// session's frozen STT config.
type STTProviderFactory func(domain.STTSessionConfig) stt.Provider

// LLMProviderFactory builds a session-scoped LLM provider.
type LLMProviderFactory func(domain.LLMSessionConfig) llm.Provider

// Registry is the process-wide `session_id → Handle` map.
// Creation, lookup and removal are all guarded by one plain mutex, since
// session churn is low relative to per-session traffic; once a Handle has
// been obtained, using it takes no registry lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Handle

	store   store.Store
	lim     *limiter.Limiter
	cfg     config.Config
	logger  *slog.Logger
	sttFact STTProviderFactory
	llmFact LLMProviderFactory
}

// New constructs a Registry. sttFactory/llmFactory let the caller supply
// real provider constructions (pkg/provider/stt/httpclient,
// pkg/provider/llm/openai) without this package importing their
// credentials-bearing construction options directly.
func New(cfg config.Config, st store.Store, lim *limiter.Limiter, logger *slog.Logger, sttFactory STTProviderFactory, llmFactory LLMProviderFactory) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Handle),
		store:    st,
		lim:      lim,
		cfg:      cfg,
		logger:   logger,
		sttFact:  sttFactory,
		llmFact:  llmFactory,
	}
}

// Create allocates a new session from meta and starts its owner goroutine.
// live controls whether the STT timeout snapshot uses LiveTimeout or
// FileTimeout.
func (r *Registry) Create(ctx context.Context, meta domain.SessionMeta, live bool) (*Handle, error) {
	conversationID := meta.ConversationID
	if conversationID == "" {
		conversationID = domain.NewID()
	}
	if _, err := r.store.EnsureConversation(ctx, domain.Conversation{ConversationID: conversationID}); err != nil {
		return nil, fmt.Errorf("session: ensure conversation: %w", err)
	}

	sess := domain.Session{
		SessionID:      domain.NewID(),
		ConversationID: conversationID,
		SpeakerDefault: meta.SpeakerDefault,
		StoreAudio:     meta.StoreAudio,
		STT:            buildSTTConfig(r.cfg.STT, meta.STTOverride, live),
		LLM:            buildLLMConfig(r.cfg.LLM, meta.LLMOverride),
		State:          domain.StateRunning,
	}

	h := hub.New(sess.SessionID, r.cfg.Tune.SubscriberQueueSize)
	builder := graphbuilder.New(sess.SessionID, sess.ConversationID,
		graphbuilder.Config{Model: sess.LLM.Model, RequestTimeout: sess.LLM.RequestTimeout},
		r.llmFact(sess.LLM), r.lim, r.store, r.store, h, r.logger)

	o := newOwner(newOwnerParams{
		session:     sess,
		logger:      r.logger,
		sttProvider: r.sttFact(sess.STT),
		builder:     builder,
		h:           h,
		st:          r.store,
		lim:         r.lim,
		tune: tuning{
			ReconcileWindow:        r.cfg.Tune.ReconcileWindow,
			AssignOverlapThreshold: r.cfg.Tune.AssignOverlapThreshold,
			ChunkTargetWords:       r.cfg.Tune.ChunkTargetWords,
			ChunkOverlapWords:      r.cfg.Tune.ChunkOverlapWords,
			IdleTimeout:            r.cfg.Tune.IdleTimeout,
			DrainTimeout:           r.cfg.Tune.DrainTimeout,
			CancelGrace:            r.cfg.Tune.CancelGrace,
		},
		audioQueueN: audioQueueCapacity(r.cfg.Tune.AudioQueueSeconds),
	})

	handle := newHandle(sess.SessionID, o)

	r.mu.Lock()
	r.sessions[sess.SessionID] = handle
	r.mu.Unlock()

	r.logger.Info("session: created", "session_id", sess.SessionID, "conversation_id", sess.ConversationID)
	return handle, nil
}

// Get looks up a live session's Handle.
func (r *Registry) Get(sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	return h, ok
}

// Remove detaches sessionID from the registry. It does not close the
// handle; callers close it first and then remove it (or rely on Close
// being called before the last reference is dropped).
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// audioQueueCapacity approximates a queue sized for audioQueueSeconds of
// buffered audio, assuming the common ~100ms client frame size; this is a
// frame-count bound, not a byte-accurate one; the STT driver's own ring
// buffer enforces the byte-accurate bound within a flush window.
func audioQueueCapacity(audioQueueSeconds float64) int {
	n := int(audioQueueSeconds * 10)
	if n < 8 {
		n = 8
	}
	return n
}
