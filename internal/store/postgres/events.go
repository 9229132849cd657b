package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// AppendTranscriptEvent implements [store.EventLog]. An event whose
// sequence_number does not exceed the session's current maximum is
// rejected with [domain.ErrSequenceOutOfOrder]; the UNIQUE(session_id,
// sequence_number) constraint also turns a conflicting insert into the
// same error rather than silently overwriting.
func (s *Store) AppendTranscriptEvent(ctx context.Context, e domain.TranscriptEvent) error {
	wordTimingsJSON, err := json.Marshal(e.WordTimings)
	if err != nil {
		return fmt.Errorf("store: append transcript event: marshal word timings: %w", err)
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("store: append transcript event: marshal metadata: %w", err)
	}

	var maxSeq int64
	const maxQ = `SELECT COALESCE(MAX(sequence_number), 0) FROM transcript_events WHERE session_id = $1`
	if err := s.pool.QueryRow(ctx, maxQ, e.SessionID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("store: append transcript event: read max sequence: %w", err)
	}
	if e.SequenceNumber <= maxSeq {
		return fmt.Errorf("store: append transcript event: %w", domain.ErrSequenceOutOfOrder)
	}

	const q = `
		INSERT INTO transcript_events
		    (event_id, session_id, conversation_id, sequence_number, kind, text,
		     speaker_id, speaker_confidence, diarization_version, word_timings,
		     segment_start_ms, segment_end_ms, received_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, q,
		e.EventID, e.SessionID, e.ConversationID, e.SequenceNumber, string(e.Kind), e.Text,
		e.SpeakerID, e.SpeakerConfidence, e.DiarizationVersion, wordTimingsJSON,
		e.SegmentStartMs, e.SegmentEndMs, e.ReceivedAt, metaJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: append transcript event: %w", domain.ErrSequenceOutOfOrder)
		}
		return fmt.Errorf("store: append transcript event: %w", err)
	}
	return nil
}

// AppendSpeakerUpdate implements [store.EventLog].
func (s *Store) AppendSpeakerUpdate(ctx context.Context, u domain.SpeakerUpdate) error {
	const q = `
		INSERT INTO speaker_updates
		    (event_id, session_id, new_speaker_id, new_confidence, diarization_version, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`

	_, err := s.pool.Exec(ctx, q,
		u.EventID, u.SessionID, u.NewSpeakerID, u.NewConfidence, u.DiarizationVersion, string(u.Reason),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: append speaker update: %w", domain.ErrSequenceOutOfOrder)
		}
		return fmt.Errorf("store: append speaker update: %w", err)
	}
	return nil
}

// LoadSessionTail implements [store.EventLog].
func (s *Store) LoadSessionTail(ctx context.Context, sessionID string, sinceSeq int64) ([]domain.TranscriptEvent, []domain.SpeakerUpdate, error) {
	const eventsQ = `
		SELECT event_id, session_id, conversation_id, sequence_number, kind, text,
		       speaker_id, speaker_confidence, diarization_version, word_timings,
		       segment_start_ms, segment_end_ms, received_at, metadata
		FROM   transcript_events
		WHERE  session_id = $1 AND sequence_number > $2
		ORDER  BY sequence_number`

	rows, err := s.pool.Query(ctx, eventsQ, sessionID, sinceSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load session tail: query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanTranscriptEvent)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load session tail: scan events: %w", err)
	}
	if events == nil {
		events = []domain.TranscriptEvent{}
	}

	const updatesQ = `
		SELECT event_id, session_id, new_speaker_id, new_confidence, diarization_version, reason, created_at
		FROM   speaker_updates
		WHERE  session_id = $1
		ORDER  BY diarization_version`

	urows, err := s.pool.Query(ctx, updatesQ, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load session tail: query updates: %w", err)
	}
	updates, err := pgx.CollectRows(urows, scanSpeakerUpdate)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load session tail: scan updates: %w", err)
	}
	if updates == nil {
		updates = []domain.SpeakerUpdate{}
	}

	return events, updates, nil
}

// CurrentSpeaker implements [store.EventLog], applying the "coalesce"
// read convention: the latest speaker_updates row wins, falling back to
// fallbackSpeaker when no revision exists for eventID.
func (s *Store) CurrentSpeaker(ctx context.Context, eventID, fallbackSpeaker string) (string, float64, int, error) {
	const q = `
		SELECT new_speaker_id, new_confidence, diarization_version
		FROM   speaker_updates
		WHERE  event_id = $1
		ORDER  BY diarization_version DESC
		LIMIT  1`

	var (
		speakerID  string
		confidence float64
		version    int
	)
	err := s.pool.QueryRow(ctx, q, eventID).Scan(&speakerID, &confidence, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fallbackSpeaker, 0, 0, nil
		}
		return "", 0, 0, fmt.Errorf("store: current speaker: %w", err)
	}
	return speakerID, confidence, version, nil
}

// SaveChunk implements [store.ChunkStore].
func (s *Store) SaveChunk(ctx context.Context, c domain.Chunk) error {
	eventIDsJSON, err := json.Marshal(c.EventIDs)
	if err != nil {
		return fmt.Errorf("store: save chunk: marshal event ids: %w", err)
	}
	segmentsJSON, err := json.Marshal(c.SpeakerSegments)
	if err != nil {
		return fmt.Errorf("store: save chunk: marshal speaker segments: %w", err)
	}

	var embedding any
	if len(c.Embedding) > 0 {
		embedding = pgvector.NewVector(c.Embedding)
	}

	const q = `
		INSERT INTO chunks
		    (chunk_id, session_id, conversation_id, text, event_ids, speaker_segments, sequence_number, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (chunk_id) DO UPDATE SET
		    text             = EXCLUDED.text,
		    event_ids        = EXCLUDED.event_ids,
		    speaker_segments = EXCLUDED.speaker_segments`

	_, err = s.pool.Exec(ctx, q,
		c.ChunkID, c.SessionID, c.ConversationID, c.Text, eventIDsJSON, segmentsJSON, c.SequenceNumber, embedding,
	)
	if err != nil {
		return fmt.Errorf("store: save chunk: %w", err)
	}
	return nil
}

func scanTranscriptEvent(row pgx.CollectableRow) (domain.TranscriptEvent, error) {
	var (
		e             domain.TranscriptEvent
		kind          string
		wordTimingsJS []byte
		metaJS        []byte
	)
	if err := row.Scan(
		&e.EventID, &e.SessionID, &e.ConversationID, &e.SequenceNumber, &kind, &e.Text,
		&e.SpeakerID, &e.SpeakerConfidence, &e.DiarizationVersion, &wordTimingsJS,
		&e.SegmentStartMs, &e.SegmentEndMs, &e.ReceivedAt, &metaJS,
	); err != nil {
		return domain.TranscriptEvent{}, err
	}
	e.Kind = domain.EventKind(kind)
	if len(wordTimingsJS) > 0 {
		if err := json.Unmarshal(wordTimingsJS, &e.WordTimings); err != nil {
			return domain.TranscriptEvent{}, fmt.Errorf("unmarshal word timings: %w", err)
		}
	}
	if len(metaJS) > 0 {
		if err := json.Unmarshal(metaJS, &e.Metadata); err != nil {
			return domain.TranscriptEvent{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func scanSpeakerUpdate(row pgx.CollectableRow) (domain.SpeakerUpdate, error) {
	var (
		u      domain.SpeakerUpdate
		reason string
	)
	if err := row.Scan(
		&u.EventID, &u.SessionID, &u.NewSpeakerID, &u.NewConfidence, &u.DiarizationVersion, &reason, &u.CreatedAt,
	); err != nil {
		return domain.SpeakerUpdate{}, err
	}
	u.Reason = domain.SpeakerUpdateReason(reason)
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
