// Package store defines the append-only event store and mutable node/graph
// store that back the conversation ingestion pipeline.
//
// Three storage concerns are modeled as separate interfaces so that a caller
// needing only one of them (e.g., a secondary analysis job that reads nodes
// but never appends events) can depend on the narrower type:
//
//   - [EventLog] is the durable, append-only log of transcript events and
//     speaker revisions.
//   - [ChunkStore] persists emitted chunks.
//   - [GraphStore] is the mutable derived store for nodes, edges, and
//     conversations.
//
// [Store] embeds all three for implementations (such as the postgres
// package) that back them with a single connection pool.
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// EventLog is the append-only log of record for transcript events and
// speaker revisions. Writes never mutate or delete a prior row; sequence
// numbers are monotonic per session, enforced here by rejecting any
// append whose SequenceNumber does not exceed the session's current
// maximum.
type EventLog interface {
	// AppendTranscriptEvent persists e. Returns [domain.ErrSequenceOutOfOrder]
	// if e.SequenceNumber does not exceed the highest sequence number
	// already recorded for e.SessionID.
	AppendTranscriptEvent(ctx context.Context, e domain.TranscriptEvent) error

	// AppendSpeakerUpdate persists u as a revision of a previously written
	// transcript event. u.DiarizationVersion is not checked against earlier
	// updates: the postgres store rejects only a repeated (SessionID,
	// DiarizationVersion, EventID) with [domain.ErrSequenceOutOfOrder], and
	// the in-memory store accepts every update.
	AppendSpeakerUpdate(ctx context.Context, u domain.SpeakerUpdate) error

	// LoadSessionTail returns the transcript events recorded for sessionID
	// with SequenceNumber > sinceSeq, ordered by sequence number, together
	// with every speaker update recorded for sessionID; speaker updates are
	// not filtered by sinceSeq and their order is not defined.
	LoadSessionTail(ctx context.Context, sessionID string, sinceSeq int64) ([]domain.TranscriptEvent, []domain.SpeakerUpdate, error)

	// CurrentSpeaker resolves the effective speaker for eventID: the
	// SpeakerUpdate with the highest DiarizationVersion, or fallbackSpeaker
	// when no update exists — implementing the "coalesce" read convention
	// from the append-only-with-revisions design.
	CurrentSpeaker(ctx context.Context, eventID string, fallbackSpeaker string) (speakerID string, confidence float64, version int, err error)
}

// ChunkStore persists Chunk rows so they can be served directly rather
// than reconstructed from event_ids on demand.
type ChunkStore interface {
	// SaveChunk persists c. Chunks are immutable once emitted; a second
	// save with the same ChunkID is an upsert for crash-recovery replay,
	// not a logical mutation.
	SaveChunk(ctx context.Context, c domain.Chunk) error
}

// GraphStore is the mutable derived store for nodes, edges (carried
// inline on Node.EdgeRelations), and conversations.
type GraphStore interface {
	// UpsertNode creates or replaces the node identified by
	// (ConversationID, NodeName). CreatedAt is preserved
	// across an update; UpdatedAt is always bumped to now.
	UpsertNode(ctx context.Context, n domain.Node) error

	// GetNode returns the node identified by (conversationID, nodeName),
	// or (nil, nil) if it does not exist.
	GetNode(ctx context.Context, conversationID, nodeName string) (*domain.Node, error)

	// ListNodes returns every node belonging to conversationID, ordered by
	// CreatedAt.
	ListNodes(ctx context.Context, conversationID string) ([]domain.Node, error)

	// EnsureConversation creates conv if it does not already exist,
	// otherwise leaves the stored row untouched and returns the existing
	// one.
	EnsureConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
}

// Store is the full Component A surface: event log, chunk store, and graph
// store backed by a single storage engine.
type Store interface {
	EventLog
	ChunkStore
	GraphStore

	// Close releases any resources (connection pools, file handles) held
	// by the implementation.
	Close()
}
