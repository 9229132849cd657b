package domain

import "time"

// SessionState is a live session's position in the ingress state machine:
// NEW -> META_RECEIVED -> RUNNING -> DRAINING -> CLOSED, with a FAILED
// branch on unrecoverable errors.
type SessionState string

const (
	StateNew           SessionState = "NEW"
	StateMetaReceived  SessionState = "META_RECEIVED"
	StateRunning       SessionState = "RUNNING"
	StateDraining      SessionState = "DRAINING"
	StateClosed        SessionState = "CLOSED"
	StateFailed        SessionState = "FAILED"
)

// SessionMeta is the client-supplied first message of a live session,
// before defaults and environment overlays are applied.
type SessionMeta struct {
	ConversationID string
	SpeakerDefault string
	StoreAudio     bool

	// STTOverride and LLMOverride, when non-nil, are shallow-merged over
	// the environment defaults to produce the session's frozen config
	// snapshot.
	STTOverride map[string]string
	LLMOverride map[string]string
}

// STTSessionConfig is the frozen, per-session snapshot of STT behavior,
// composed once at session creation and never mutated afterwards.
type STTSessionConfig struct {
	URL      string
	Model    string
	Language string

	VADEnabled       bool
	VADMinSeconds    float64
	VADMaxSeconds    float64
	VADSilenceMs     int
	FixedIntervalSec float64

	PoolEnabled bool
	Timeout     time.Duration
	Diarize     bool
}

// LLMSessionConfig is the frozen, per-session snapshot of LLM behavior.
type LLMSessionConfig struct {
	URL            string
	Model          string
	RequestTimeout time.Duration
}

// Session is the transient container for one live conversation.
// Everything but ConversationID and the two config snapshots is mutated
// only by the session's own owner goroutine.
type Session struct {
	SessionID      string
	ConversationID string
	StartedAt      time.Time
	SpeakerDefault string
	StoreAudio     bool

	STT STTSessionConfig
	LLM LLMSessionConfig

	State SessionState
}
