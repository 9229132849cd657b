package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Load reads configuration from the process environment and returns a
// validated [Config]. Unset variables fall back to the documented defaults.
// When validation fails, the Config is still returned alongside the joined
// error, so a caller can treat [ErrWarnNoDatabase] alone as advisory.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		AuthToken:    os.Getenv("AUTH_TOKEN"),
		MaxBodyBytes: getEnvInt64("MAX_BODY_BYTES", 50*1024*1024),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		STT: STTConfig{
			URL:              os.Getenv("STT_DEFAULT_URL"),
			Model:            os.Getenv("STT_DEFAULT_MODEL"),
			VADEnabled:       getEnvBool("STT_VAD_ENABLED", true),
			VADMinSeconds:    getEnvFloat("STT_VAD_MIN_SECONDS", 0.5),
			VADMaxSeconds:    getEnvFloat("STT_VAD_MAX_SECONDS", 5.0),
			VADSilenceMs:     getEnvInt("STT_VAD_SILENCE_MS", 300),
			FixedIntervalSec: getEnvFloat("STT_FIXED_INTERVAL_SECONDS", 1.2),
			HTTPPoolEnabled:  getEnvBool("STT_HTTP_POOL_ENABLED", true),
			LiveTimeout:      time.Duration(getEnvInt("STT_LIVE_TIMEOUT_SECONDS", 10)) * time.Second,
			FileTimeout:      time.Duration(getEnvInt("STT_FILE_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		LLM: LLMConfig{
			URL:            os.Getenv("LLM_DEFAULT_URL"),
			Model:          os.Getenv("LLM_DEFAULT_MODEL"),
			RequestTimeout: time.Duration(getEnvInt("LLM_REQUEST_TIMEOUT_SECONDS", 45)) * time.Second,
		},
		Tune: TuningConfig{
			ReconcileWindow:        time.Duration(getEnvInt("RECONCILE_WINDOW_MS", 2000)) * time.Millisecond,
			AssignOverlapThreshold: getEnvFloat("ASSIGN_OVERLAP_THRESHOLD", 0.3),
			ChunkTargetWords:       getEnvInt("CHUNK_TARGET_WORDS", 200),
			ChunkOverlapWords:      getEnvInt("CHUNK_OVERLAP_WORDS", 30),
			IdleTimeout:            time.Duration(getEnvInt("IDLE_TIMEOUT_SECONDS", 6)) * time.Second,
			DrainTimeout:           time.Duration(getEnvInt("DRAIN_TIMEOUT_SECONDS", 3)) * time.Second,
			CancelGrace:            time.Duration(getEnvInt("CANCEL_GRACE_SECONDS", 1)) * time.Second,
			HTTPOutConcurrency:     getEnvInt64("HTTP_OUT_CONCURRENCY", 32),
			LLMInFlightCap:         getEnvInt64("LLM_IN_FLIGHT_CAP", 8),
			SubscriberQueueSize:    getEnvInt("SUBSCRIBER_QUEUE_SIZE", 256),
			AudioQueueSeconds:      getEnvFloat("AUDIO_QUEUE_SECONDS", 2.0),
		},
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found, rather than stopping
// at the first one.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if cfg.STT.VADMinSeconds <= 0 || cfg.STT.VADMaxSeconds <= 0 {
		errs = append(errs, errors.New("STT_VAD_MIN_SECONDS and STT_VAD_MAX_SECONDS must be positive"))
	} else if cfg.STT.VADMinSeconds > cfg.STT.VADMaxSeconds {
		errs = append(errs, fmt.Errorf("STT_VAD_MIN_SECONDS (%.2f) must not exceed STT_VAD_MAX_SECONDS (%.2f)",
			cfg.STT.VADMinSeconds, cfg.STT.VADMaxSeconds))
	}
	if cfg.STT.VADSilenceMs <= 0 {
		errs = append(errs, errors.New("STT_VAD_SILENCE_MS must be positive"))
	}
	if cfg.LLM.RequestTimeout <= 0 {
		errs = append(errs, errors.New("LLM_REQUEST_TIMEOUT_SECONDS must be positive"))
	}
	if cfg.Tune.ChunkOverlapWords >= cfg.Tune.ChunkTargetWords {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP_WORDS (%d) must be less than CHUNK_TARGET_WORDS (%d)",
			cfg.Tune.ChunkOverlapWords, cfg.Tune.ChunkTargetWords))
	}
	if cfg.Tune.HTTPOutConcurrency <= 0 {
		errs = append(errs, errors.New("HTTP_OUT_CONCURRENCY must be positive"))
	}
	if cfg.Tune.LLMInFlightCap <= 0 {
		errs = append(errs, errors.New("LLM_IN_FLIGHT_CAP must be positive"))
	}
	if cfg.Tune.SubscriberQueueSize <= 0 {
		errs = append(errs, errors.New("SUBSCRIBER_QUEUE_SIZE must be positive"))
	}
	if cfg.DatabaseURL == "" {
		// Not a hard error — the service falls back to the in-memory store —
		// but worth surfacing loudly since it silently changes durability.
		errs = append(errs, ErrWarnNoDatabase)
	}

	return errors.Join(errs...)
}

// ErrWarnNoDatabase is joined into Validate's result rather than logged
// directly so callers that treat Validate as authoritative (tests, the
// registry seed script) see it too; main.go downgrades this single error to
// a logged warning instead of a fatal startup failure — see cmd/convoengine.
var ErrWarnNoDatabase = errors.New("DATABASE_URL is empty: running with the in-memory event store, transcripts will not survive a restart")

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
