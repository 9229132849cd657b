package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// NewID returns a freshly generated UUID v4 string, used for every
// identifier in the data model (event_id, session_id, conversation_id,
// node_id).
func NewID() string {
	return uuid.NewString()
}

// ChunkID formats the stable, human-readable chunk identifier used within
// a session: "chunk-<n>".
func ChunkID(sequence int64) string {
	return "chunk-" + strconv.FormatInt(sequence, 10)
}
