// Package config defines the configuration schema and environment-variable
// loader for the conversation ingestion service.
package config

import "time"

// Config is the root, immutable configuration for a running instance. It is
// built once at startup by [Load] and never mutated afterwards — sessions
// take an immutable snapshot of the relevant sub-structs so that behavior
// stays reproducible across a session's lifetime (see STTConfig /
// LLMConfig).
type Config struct {
	// ListenAddr is the TCP address the HTTP/WS server listens on.
	ListenAddr string

	// AuthToken, when non-empty, must match the bearer token presented on
	// WebSocket upgrade and file-upload requests.
	AuthToken string

	// MaxBodyBytes caps the size of an uploaded file (default 50 MiB).
	MaxBodyBytes int64

	STT  STTConfig
	LLM  LLMConfig
	Tune TuningConfig

	// DatabaseURL is the PostgreSQL connection string for the event store.
	// Empty disables persistence; the service then runs against the
	// in-memory store only (suitable for tests and local development).
	DatabaseURL string
}

// STTConfig configures the outbound speech-to-text HTTP provider and its
// voice-activity-aware flush policy.
type STTConfig struct {
	URL   string
	Model string

	VADEnabled       bool
	VADMinSeconds    float64
	VADMaxSeconds    float64
	VADSilenceMs     int
	FixedIntervalSec float64

	HTTPPoolEnabled bool

	LiveTimeout time.Duration
	FileTimeout time.Duration
}

// LLMConfig configures the outbound LLM HTTP provider used by the graph
// builder.
type LLMConfig struct {
	URL            string
	Model          string
	RequestTimeout time.Duration
}

// TuningConfig collects the numeric knobs that govern diarization and
// chunking behavior but have no dedicated environment variable in the
// baseline list, yet must be configurable for a production deployment.
type TuningConfig struct {
	// ReconcileWindow is how long a transcript event's speaker assignment
	// may still be revised.
	ReconcileWindow time.Duration

	// AssignOverlapThreshold is the minimum overlap ratio for a diarized
	// segment to be assigned to a transcript event.
	AssignOverlapThreshold float64

	// ChunkTargetWords and ChunkOverlapWords govern accumulator emission.
	ChunkTargetWords  int
	ChunkOverlapWords int

	// IdleTimeout is the idle duration that forces a chunk emission of any
	// buffered text. With no buffered text nothing is emitted: no heartbeat
	// processing_status is sent for an idle stall.
	IdleTimeout time.Duration

	// DrainTimeout is how long session close waits for in-flight work
	// before detaching it.
	DrainTimeout time.Duration

	// CancelGrace: on session close, an in-flight LLM call that has run
	// longer than this is aborted; a younger one is allowed to finish.
	CancelGrace time.Duration

	// HTTPOutConcurrency is the global cap on concurrent outbound STT/LLM
	// HTTP calls across all sessions.
	HTTPOutConcurrency int64

	// LLMInFlightCap is the global cap on concurrent in-flight LLM calls
	// across all sessions.
	LLMInFlightCap int64

	// SubscriberQueueSize bounds each hub subscriber's outbound event queue.
	SubscriberQueueSize int

	// AudioQueueSeconds bounds the per-session audio ingress queue, expressed
	// as seconds of 16kHz mono 16-bit audio.
	AudioQueueSeconds float64
}
