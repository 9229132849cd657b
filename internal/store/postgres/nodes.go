package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// UpsertNode implements [store.GraphStore]. It replaces the node identified
// by (ConversationID, NodeName), preserving created_at and
// bumping updated_at via an ON CONFLICT upsert.
func (s *Store) UpsertNode(ctx context.Context, n domain.Node) error {
	if n.NodeID == "" {
		n.NodeID = domain.NewID()
	}
	chunkIDsJSON, err := json.Marshal(n.ChunkIDs)
	if err != nil {
		return fmt.Errorf("store: upsert node: marshal chunk ids: %w", err)
	}
	edgesJSON, err := json.Marshal(n.EdgeRelations)
	if err != nil {
		return fmt.Errorf("store: upsert node: marshal edge relations: %w", err)
	}

	const q = `
		INSERT INTO nodes
		    (node_id, conversation_id, node_name, summary, chunk_id, chunk_ids,
		     speaker_id, source_excerpt, predecessor_id, successor_id, edge_relations,
		     is_bookmark, is_contextual_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		ON CONFLICT (conversation_id, node_name) DO UPDATE SET
		    summary                = EXCLUDED.summary,
		    chunk_id                = EXCLUDED.chunk_id,
		    chunk_ids                = EXCLUDED.chunk_ids,
		    speaker_id               = EXCLUDED.speaker_id,
		    source_excerpt           = EXCLUDED.source_excerpt,
		    predecessor_id           = EXCLUDED.predecessor_id,
		    successor_id             = EXCLUDED.successor_id,
		    edge_relations           = EXCLUDED.edge_relations,
		    is_bookmark              = EXCLUDED.is_bookmark,
		    is_contextual_progress   = EXCLUDED.is_contextual_progress,
		    updated_at               = now()`

	_, err = s.pool.Exec(ctx, q,
		n.NodeID, n.ConversationID, n.NodeName, n.Summary, n.ChunkID, chunkIDsJSON,
		n.SpeakerID, n.SourceExcerpt, n.PredecessorID, n.SuccessorID, edgesJSON,
		n.IsBookmark, n.IsContextualProgress,
	)
	if err != nil {
		return fmt.Errorf("store: upsert node: %w", err)
	}
	return nil
}

// GetNode implements [store.GraphStore].
func (s *Store) GetNode(ctx context.Context, conversationID, nodeName string) (*domain.Node, error) {
	const q = `
		SELECT node_id, conversation_id, node_name, summary, chunk_id, chunk_ids,
		       speaker_id, source_excerpt, predecessor_id, successor_id, edge_relations,
		       is_bookmark, is_contextual_progress, created_at, updated_at
		FROM   nodes
		WHERE  conversation_id = $1 AND node_name = $2`

	row := s.pool.QueryRow(ctx, q, conversationID, nodeName)
	n, err := scanNodeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get node: %w", err)
	}
	return &n, nil
}

// ListNodes implements [store.GraphStore].
func (s *Store) ListNodes(ctx context.Context, conversationID string) ([]domain.Node, error) {
	const q = `
		SELECT node_id, conversation_id, node_name, summary, chunk_id, chunk_ids,
		       speaker_id, source_excerpt, predecessor_id, successor_id, edge_relations,
		       is_bookmark, is_contextual_progress, created_at, updated_at
		FROM   nodes
		WHERE  conversation_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Node, error) {
		return scanNodeRow(row)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	if nodes == nil {
		nodes = []domain.Node{}
	}
	return nodes, nil
}

// EnsureConversation implements [store.GraphStore].
func (s *Store) EnsureConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if conv.ConversationID == "" {
		conv.ConversationID = domain.NewID()
	}
	participantsJSON, err := json.Marshal(conv.Participants)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("store: ensure conversation: marshal participants: %w", err)
	}

	const q = `
		INSERT INTO conversations (conversation_id, source_type, participants, started_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (conversation_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, conv.ConversationID, conv.SourceType, participantsJSON); err != nil {
		return domain.Conversation{}, fmt.Errorf("store: ensure conversation: %w", err)
	}

	const readQ = `
		SELECT conversation_id, source_type, participants, started_at,
		       (SELECT count(*) FROM nodes n WHERE n.conversation_id = c.conversation_id)
		FROM   conversations c
		WHERE  conversation_id = $1`

	row := s.pool.QueryRow(ctx, readQ, conv.ConversationID)
	var (
		out               domain.Conversation
		participantsBytes []byte
	)
	if err := row.Scan(&out.ConversationID, &out.SourceType, &participantsBytes, &out.StartedAt, &out.NodeCount); err != nil {
		return domain.Conversation{}, fmt.Errorf("store: ensure conversation: read back: %w", err)
	}
	if len(participantsBytes) > 0 {
		if err := json.Unmarshal(participantsBytes, &out.Participants); err != nil {
			return domain.Conversation{}, fmt.Errorf("store: ensure conversation: unmarshal participants: %w", err)
		}
	}
	return out, nil
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.CollectableRow
// (pgx.CollectRows callback), letting scanNodeRow serve both call sites.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeRow(row rowScanner) (domain.Node, error) {
	var (
		n            domain.Node
		chunkIDsJS   []byte
		edgesJS      []byte
	)
	if err := row.Scan(
		&n.NodeID, &n.ConversationID, &n.NodeName, &n.Summary, &n.ChunkID, &chunkIDsJS,
		&n.SpeakerID, &n.SourceExcerpt, &n.PredecessorID, &n.SuccessorID, &edgesJS,
		&n.IsBookmark, &n.IsContextualProgress, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return domain.Node{}, err
	}
	if len(chunkIDsJS) > 0 {
		if err := json.Unmarshal(chunkIDsJS, &n.ChunkIDs); err != nil {
			return domain.Node{}, fmt.Errorf("unmarshal chunk ids: %w", err)
		}
	}
	if len(edgesJS) > 0 {
		if err := json.Unmarshal(edgesJS, &n.EdgeRelations); err != nil {
			return domain.Node{}, fmt.Errorf("unmarshal edge relations: %w", err)
		}
	}
	return n, nil
}
