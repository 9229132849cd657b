// Package domain defines the core entities of the conversation ingestion
// pipeline: sessions, transcript events, speaker revisions, chunks, and the
// conversation graph they are distilled into. These types are shared by
// every component (store, registry, STT driver, diarizer, accumulator,
// graph builder, hub, ingress) so that none of them need to depend on each
// other's packages for data shapes.
package domain

import "time"

// EventKind distinguishes a provisional transcript event from a finalized one.
type EventKind string

const (
	EventPartial EventKind = "partial"
	EventFinal   EventKind = "final"
)

// SpeakerUpdateReason records why a speaker assignment changed.
type SpeakerUpdateReason string

const (
	ReasonInitial        SpeakerUpdateReason = "initial"
	ReasonOverlapRefined SpeakerUpdateReason = "overlap_refined"
	ReasonClusterMerge   SpeakerUpdateReason = "cluster_merge"
	ReasonReset          SpeakerUpdateReason = "reset"
)

// WordTiming is a single recognized word with its timing and confidence,
// as returned by an STT provider.
type WordTiming struct {
	Word       string
	StartMs    int64
	EndMs      int64
	Confidence float64
}

// TranscriptEvent is an append-only record of one partial or final STT
// result. Once written, a row is never updated or deleted; speaker
// revisions are expressed as separate SpeakerUpdate rows.
type TranscriptEvent struct {
	EventID            string
	SessionID           string
	ConversationID      string
	SequenceNumber      int64
	Kind                EventKind
	Text                string
	SpeakerID           string // empty means unassigned
	SpeakerConfidence   float64
	DiarizationVersion  int
	WordTimings         []WordTiming
	SegmentStartMs      int64
	SegmentEndMs        int64
	ReceivedAt          time.Time
	Metadata            map[string]string
}

// SpeakerUpdate revises the speaker assignment of a previously written
// TranscriptEvent. Readers compute the current speaker as the update with
// the highest DiarizationVersion for a given EventID, falling back to the
// event's own SpeakerID when no update exists.
type SpeakerUpdate struct {
	EventID            string
	SessionID          string
	NewSpeakerID       string
	NewConfidence      float64
	DiarizationVersion int
	Reason             SpeakerUpdateReason
	CreatedAt          time.Time
}

// SpeakerSegment is one diarized span returned by the STT provider
// alongside a transcription result.
type SpeakerSegment struct {
	StartMs   int64
	EndMs     int64
	Text      string
	SpeakerID string // empty when the provider didn't diarize this segment
}

// ChunkSpeakerLine is one line of a chunk's formatted text, attributed to
// a speaker (or unattributed when SpeakerID is empty).
type ChunkSpeakerLine struct {
	SpeakerID string
	Text      string
}

// Chunk is a contiguous batch of finalized transcript text submitted as a
// single LLM request. Immutable once emitted.
type Chunk struct {
	ChunkID         string
	SessionID       string
	ConversationID  string
	Text            string
	EventIDs        []string
	SpeakerSegments []ChunkSpeakerLine
	SequenceNumber  int64
	CreatedAt       time.Time
	// Embedding is optional and reserved for future semantic retrieval over
	// chunk text; the live path never populates it.
	Embedding []float32
}

// EdgeRelationType labels the semantic relationship a Node's edge_relations
// entry carries to another node.
type EdgeRelationType string

const (
	RelationSupports       EdgeRelationType = "supports"
	RelationRebuts         EdgeRelationType = "rebuts"
	RelationClarifies      EdgeRelationType = "clarifies"
	RelationAsks           EdgeRelationType = "asks"
	RelationTangent        EdgeRelationType = "tangent"
	RelationReturnToThread EdgeRelationType = "return_to_thread"
	RelationContextual     EdgeRelationType = "contextual"
	RelationTemporalNext   EdgeRelationType = "temporal_next"
)

// EdgeRelation is a typed, contextual link from one Node to another,
// referenced by node name and resolved to an id only at read time.
type EdgeRelation struct {
	RelatedNodeName string
	RelationType    EdgeRelationType
	RelationText    string
}

// Node is a topical unit of a conversation graph, produced and revised by
// the LLM graph builder. Node names are unique within a conversation; the
// builder either creates a new node or overwrites an existing one's fields
// — it never creates a duplicate.
type Node struct {
	NodeID               string
	ConversationID       string
	NodeName             string
	Summary              string
	ChunkID              string
	ChunkIDs             []string // every chunk that has contributed to this node
	SpeakerID            string
	SourceExcerpt        string
	PredecessorID        string
	SuccessorID          string
	EdgeRelations        []EdgeRelation
	IsBookmark           bool
	IsContextualProgress bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Conversation is the long-lived aggregate that persists across sessions
// and reconnects.
type Conversation struct {
	ConversationID string
	SourceType     string
	Participants   []string
	StartedAt      time.Time
	NodeCount      int
}

// FindingSeverity grades a secondary-analysis Finding.
type FindingSeverity string

const (
	SeverityInfo    FindingSeverity = "info"
	SeverityWarning FindingSeverity = "warning"
	SeverityHigh    FindingSeverity = "high"
)

// Finding is a tagged-variant result produced by a secondary analysis
// consumer of the node store (bias, frame, simulacra, claims — not on the
// live path). The payload's shape is defined by the analysis kind.
type Finding struct {
	NodeID   string
	Kind     string
	Severity FindingSeverity
	Payload  map[string]any
}
