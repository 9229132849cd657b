// Package graphbuilder implements the per-session LLM-backed graph builder
// that turns each emitted chunk into upserted graph nodes and edges, under
// per-session at-most-one-in-flight semantics.
package graphbuilder

import (
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// llmNode is the wire shape of one entry in the LLM response's "nodes"
// array.
type llmNode struct {
	NodeName             string    `json:"node_name"`
	Summary              string    `json:"summary"`
	SpeakerID            *string   `json:"speaker_id"`
	SourceExcerpt        string    `json:"source_excerpt"`
	Predecessor          *string   `json:"predecessor"`
	Successor            *string   `json:"successor"`
	EdgeRelations        []llmEdge `json:"edge_relations"`
	IsBookmark           bool      `json:"is_bookmark"`
	IsContextualProgress bool      `json:"is_contextual_progress"`
}

type llmEdge struct {
	RelatedNode  string `json:"related_node"`
	RelationType string `json:"relation_type"`
	RelationText string `json:"relation_text"`
}

// llmResponse is the full wire shape of one LLM completion.
type llmResponse struct {
	Nodes     []llmNode         `json:"nodes"`
	ChunkDict map[string]string `json:"chunk_dict"`
}

// runningGraph is the session's accumulated graph: nodes keyed by name
// (node names are unique within a conversation) plus the chunk→text
// dictionary handed to every subscriber for idempotent client rendering.
type runningGraph struct {
	conversationID string
	nodesByName    map[string]*domain.Node
	chunkDict      map[string]string
}

func newRunningGraph(conversationID string) *runningGraph {
	return &runningGraph{
		conversationID: conversationID,
		nodesByName:    make(map[string]*domain.Node),
		chunkDict:      make(map[string]string),
	}
}

// merge applies resp, produced for chunk c, onto the running graph.
// Returns the nodes that were created or updated, in the order the LLM
// returned them, so the caller can persist and publish a stable ordering.
//
// merge is idempotent: re-applying the same resp for the same chunk is a
// no-op beyond the chunk-id trail.
func (g *runningGraph) merge(c domain.Chunk, resp llmResponse, now time.Time) []domain.Node {
	updated := make([]domain.Node, 0, len(resp.Nodes))

	for _, ln := range resp.Nodes {
		if ln.NodeName == "" {
			continue
		}
		existing, ok := g.nodesByName[ln.NodeName]

		n := &domain.Node{
			NodeID:               nodeID(existing),
			ConversationID:       g.conversationID,
			NodeName:             ln.NodeName,
			Summary:              ln.Summary,
			ChunkID:              c.ChunkID,
			SourceExcerpt:        ln.SourceExcerpt,
			IsBookmark:           ln.IsBookmark,
			IsContextualProgress: ln.IsContextualProgress,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if ln.SpeakerID != nil {
			n.SpeakerID = *ln.SpeakerID
		}
		if ln.Predecessor != nil {
			n.PredecessorID = *ln.Predecessor
		}
		if ln.Successor != nil {
			n.SuccessorID = *ln.Successor
		}
		for _, e := range ln.EdgeRelations {
			n.EdgeRelations = append(n.EdgeRelations, domain.EdgeRelation{
				RelatedNodeName: e.RelatedNode,
				RelationType:    domain.EdgeRelationType(e.RelationType),
				RelationText:    e.RelationText,
			})
		}

		if ok {
			n.CreatedAt = existing.CreatedAt
			n.ChunkIDs = appendUnique(existing.ChunkIDs, c.ChunkID)
		} else {
			n.ChunkIDs = []string{c.ChunkID}
		}

		g.nodesByName[ln.NodeName] = n
		updated = append(updated, *n)
	}

	for id, text := range resp.ChunkDict {
		g.chunkDict[id] = text
	}
	g.chunkDict[c.ChunkID] = c.Text

	return updated
}

// nodes returns every node in the running graph, for `existing_json`.
func (g *runningGraph) nodes() []domain.Node {
	out := make([]domain.Node, 0, len(g.nodesByName))
	for _, n := range g.nodesByName {
		out = append(out, *n)
	}
	return out
}

// chunkDictSnapshot returns a copy of the chunk dictionary accumulated so
// far, for the `chunk_dict` hub event.
func (g *runningGraph) chunkDictSnapshot() map[string]string {
	out := make(map[string]string, len(g.chunkDict))
	for k, v := range g.chunkDict {
		out[k] = v
	}
	return out
}

func nodeID(existing *domain.Node) string {
	if existing != nil {
		return existing.NodeID
	}
	return domain.NewID()
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}
