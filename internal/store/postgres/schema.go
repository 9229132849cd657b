// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store]: an append-only transcript event log, a speaker-revision
// log, a chunk table, and a mutable node/conversation graph store.
//
// A single [pgxpool.Pool] backs all five tables. The pgvector extension is
// installed automatically via [Migrate] so that the chunks table's
// embedding column is available for future semantic retrieval, even though
// the live ingestion path never populates it.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT        PRIMARY KEY,
    source_type     TEXT        NOT NULL DEFAULT '',
    participants    JSONB       NOT NULL DEFAULT '[]',
    started_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const ddlTranscriptEvents = `
CREATE TABLE IF NOT EXISTS transcript_events (
    event_id            TEXT        PRIMARY KEY,
    session_id          TEXT        NOT NULL,
    conversation_id     TEXT        NOT NULL REFERENCES conversations (conversation_id) ON DELETE CASCADE,
    sequence_number     BIGINT      NOT NULL,
    kind                TEXT        NOT NULL,
    text                TEXT        NOT NULL,
    speaker_id          TEXT        NOT NULL DEFAULT '',
    speaker_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    diarization_version INT         NOT NULL DEFAULT 0,
    word_timings        JSONB       NOT NULL DEFAULT '[]',
    segment_start_ms    BIGINT      NOT NULL DEFAULT 0,
    segment_end_ms      BIGINT      NOT NULL DEFAULT 0,
    received_at         TIMESTAMPTZ NOT NULL,
    metadata            JSONB       NOT NULL DEFAULT '{}',
    UNIQUE (session_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_transcript_events_session
    ON transcript_events (session_id, sequence_number);

CREATE INDEX IF NOT EXISTS idx_transcript_events_conversation
    ON transcript_events (conversation_id);
`

const ddlSpeakerUpdates = `
CREATE TABLE IF NOT EXISTS speaker_updates (
    id                   BIGSERIAL   PRIMARY KEY,
    event_id             TEXT        NOT NULL REFERENCES transcript_events (event_id) ON DELETE CASCADE,
    session_id           TEXT        NOT NULL,
    new_speaker_id       TEXT        NOT NULL,
    new_confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    diarization_version  INT         NOT NULL,
    reason               TEXT        NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, diarization_version, event_id)
);

CREATE INDEX IF NOT EXISTS idx_speaker_updates_event
    ON speaker_updates (event_id, diarization_version DESC);
`

const ddlNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    node_id                TEXT        PRIMARY KEY,
    conversation_id        TEXT        NOT NULL REFERENCES conversations (conversation_id) ON DELETE CASCADE,
    node_name               TEXT        NOT NULL,
    summary                 TEXT        NOT NULL DEFAULT '',
    chunk_id                TEXT        NOT NULL DEFAULT '',
    chunk_ids               JSONB       NOT NULL DEFAULT '[]',
    speaker_id              TEXT        NOT NULL DEFAULT '',
    source_excerpt          TEXT        NOT NULL DEFAULT '',
    predecessor_id          TEXT        NOT NULL DEFAULT '',
    successor_id            TEXT        NOT NULL DEFAULT '',
    edge_relations          JSONB       NOT NULL DEFAULT '[]',
    is_bookmark             BOOLEAN     NOT NULL DEFAULT false,
    is_contextual_progress  BOOLEAN     NOT NULL DEFAULT false,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (conversation_id, node_name)
);

CREATE INDEX IF NOT EXISTS idx_nodes_conversation
    ON nodes (conversation_id, created_at);
`

// ddlChunks returns the chunks table DDL with the embedding dimension
// substituted for the pgvector column.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
    chunk_id          TEXT        PRIMARY KEY,
    session_id        TEXT        NOT NULL,
    conversation_id   TEXT        NOT NULL REFERENCES conversations (conversation_id) ON DELETE CASCADE,
    text              TEXT        NOT NULL,
    event_ids         JSONB       NOT NULL DEFAULT '[]',
    speaker_segments  JSONB       NOT NULL DEFAULT '[]',
    sequence_number   BIGINT      NOT NULL,
    embedding         vector(%d),
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_session
    ON chunks (session_id, sequence_number);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlUtterances = `
CREATE OR REPLACE VIEW utterances AS
SELECT te.conversation_id,
       te.session_id,
       te.event_id,
       te.text,
       COALESCE(
           (SELECT su.new_speaker_id
            FROM   speaker_updates su
            WHERE  su.event_id = te.event_id
            ORDER  BY su.diarization_version DESC
            LIMIT  1),
           NULLIF(te.speaker_id, '')
       ) AS speaker_id,
       te.received_at
FROM   transcript_events te
WHERE  te.kind = 'final';
`

// Migrate creates or ensures all required tables, indexes, and the
// pgvector extension exist. Idempotent; safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlConversations,
		ddlTranscriptEvents,
		ddlSpeakerUpdates,
		ddlNodes,
		ddlChunks(embeddingDimensions),
		ddlUtterances,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
