package domain

import "errors"

// Sentinel errors shared across components so callers can branch with
// errors.Is rather than string matching.
var (
	// ErrSessionNotFound is returned by the registry when a session id has
	// no live handle.
	ErrSessionNotFound = errors.New("domain: session not found")

	// ErrProtocol indicates a malformed inbound message (bad session_meta,
	// unexpected first frame, invalid SSE request). Fatal for the
	// connection; no session is created.
	ErrProtocol = errors.New("domain: protocol error")

	// ErrBackpressure is returned when a bounded queue (audio ingress,
	// subscriber fan-out) is full. Recoverable: the caller drops the
	// oldest item and emits a warning rather than blocking.
	ErrBackpressure = errors.New("domain: backpressure overflow")

	// ErrSequenceOutOfOrder is returned by the event store when an append
	// carries a sequence_number that does not exceed the session's current
	// maximum.
	ErrSequenceOutOfOrder = errors.New("domain: sequence number out of order")

	// ErrSessionClosed is returned by a SessionHandle method called after
	// the session has entered DRAINING or CLOSED.
	ErrSessionClosed = errors.New("domain: session closed")
)
