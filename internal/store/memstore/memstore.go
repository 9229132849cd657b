// Package memstore provides an in-memory [store.Store] used when no
// DATABASE_URL is configured. Transcripts do not survive a restart; the
// tradeoff is logged as a warning at startup (see internal/config.Validate).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a sync.RWMutex-guarded, process-local implementation of
// [store.Store]. It is sufficient for tests and for running without a
// database, but holds everything in memory for the life of the process.
type Store struct {
	mu sync.RWMutex

	eventsBySession map[string][]domain.TranscriptEvent
	updatesByEvent  map[string][]domain.SpeakerUpdate
	chunks          map[string]domain.Chunk
	nodes           map[string]map[string]domain.Node // conversationID -> nodeName -> Node
	conversations   map[string]domain.Conversation
	maxSeq          map[string]int64
}

// New returns an empty Store ready for use.
func New() *Store {
	return &Store{
		eventsBySession: make(map[string][]domain.TranscriptEvent),
		updatesByEvent:  make(map[string][]domain.SpeakerUpdate),
		chunks:          make(map[string]domain.Chunk),
		nodes:           make(map[string]map[string]domain.Node),
		conversations:   make(map[string]domain.Conversation),
		maxSeq:          make(map[string]int64),
	}
}

// Close is a no-op; there is nothing to release.
func (s *Store) Close() {}

func (s *Store) AppendTranscriptEvent(_ context.Context, e domain.TranscriptEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.SequenceNumber <= s.maxSeq[e.SessionID] {
		return domain.ErrSequenceOutOfOrder
	}
	s.maxSeq[e.SessionID] = e.SequenceNumber
	s.eventsBySession[e.SessionID] = append(s.eventsBySession[e.SessionID], e)
	return nil
}

func (s *Store) AppendSpeakerUpdate(_ context.Context, u domain.SpeakerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatesByEvent[u.EventID] = append(s.updatesByEvent[u.EventID], u)
	return nil
}

func (s *Store) LoadSessionTail(_ context.Context, sessionID string, sinceSeq int64) ([]domain.TranscriptEvent, []domain.SpeakerUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.TranscriptEvent, 0)
	for _, e := range s.eventsBySession[sessionID] {
		if e.SequenceNumber > sinceSeq {
			events = append(events, e)
		}
	}

	updates := make([]domain.SpeakerUpdate, 0)
	for _, us := range s.updatesByEvent {
		for _, u := range us {
			if u.SessionID == sessionID {
				updates = append(updates, u)
			}
		}
	}
	return events, updates, nil
}

func (s *Store) CurrentSpeaker(_ context.Context, eventID, fallbackSpeaker string) (string, float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.SpeakerUpdate
	for i, u := range s.updatesByEvent[eventID] {
		if best == nil || u.DiarizationVersion > best.DiarizationVersion {
			best = &s.updatesByEvent[eventID][i]
		}
	}
	if best == nil {
		return fallbackSpeaker, 0, 0, nil
	}
	return best.NewSpeakerID, best.NewConfidence, best.DiarizationVersion, nil
}

func (s *Store) SaveChunk(_ context.Context, c domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[c.ChunkID] = c
	return nil
}

func (s *Store) UpsertNode(_ context.Context, n domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.nodes[n.ConversationID]
	if !ok {
		byName = make(map[string]domain.Node)
		s.nodes[n.ConversationID] = byName
	}
	if existing, ok := byName[n.NodeName]; ok {
		n.NodeID = existing.NodeID
		n.CreatedAt = existing.CreatedAt
	} else {
		if n.NodeID == "" {
			n.NodeID = domain.NewID()
		}
		n.CreatedAt = n.UpdatedAt
	}
	byName[n.NodeName] = n
	return nil
}

func (s *Store) GetNode(_ context.Context, conversationID, nodeName string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName, ok := s.nodes[conversationID]
	if !ok {
		return nil, nil
	}
	n, ok := byName[nodeName]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (s *Store) ListNodes(_ context.Context, conversationID string) ([]domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Node, 0, len(s.nodes[conversationID]))
	for _, n := range s.nodes[conversationID] {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) EnsureConversation(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ConversationID == "" {
		conv.ConversationID = domain.NewID()
	}
	if existing, ok := s.conversations[conv.ConversationID]; ok {
		return existing, nil
	}
	s.conversations[conv.ConversationID] = conv
	return conv, nil
}
