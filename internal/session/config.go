package session

import (
	"strconv"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/config"
	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// buildSTTConfig composes the frozen per-session STT snapshot from the
// environment defaults overlaid with the session's stt_config_override.
func buildSTTConfig(base config.STTConfig, override map[string]string, liveTimeout bool) domain.STTSessionConfig {
	timeout := base.LiveTimeout
	if !liveTimeout {
		timeout = base.FileTimeout
	}
	cfg := domain.STTSessionConfig{
		URL:              base.URL,
		Model:            base.Model,
		VADEnabled:       base.VADEnabled,
		VADMinSeconds:    base.VADMinSeconds,
		VADMaxSeconds:    base.VADMaxSeconds,
		VADSilenceMs:     base.VADSilenceMs,
		FixedIntervalSec: base.FixedIntervalSec,
		PoolEnabled:      base.HTTPPoolEnabled,
		Timeout:          timeout,
	}
	for k, v := range override {
		switch k {
		case "url":
			cfg.URL = v
		case "model":
			cfg.Model = v
		case "language":
			cfg.Language = v
		case "vad_enabled":
			cfg.VADEnabled = v == "true"
		case "vad_min_seconds":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.VADMinSeconds = f
			}
		case "vad_max_seconds":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.VADMaxSeconds = f
			}
		case "vad_silence_ms":
			if n, err := strconv.Atoi(v); err == nil {
				cfg.VADSilenceMs = n
			}
		case "fixed_interval_seconds":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.FixedIntervalSec = f
			}
		case "pool_enabled":
			cfg.PoolEnabled = v == "true"
		case "diarize":
			cfg.Diarize = v == "true"
		}
	}
	return cfg
}

// buildLLMConfig composes the frozen per-session LLM snapshot.
func buildLLMConfig(base config.LLMConfig, override map[string]string) domain.LLMSessionConfig {
	cfg := domain.LLMSessionConfig{
		URL:            base.URL,
		Model:          base.Model,
		RequestTimeout: base.RequestTimeout,
	}
	for k, v := range override {
		switch k {
		case "url":
			cfg.URL = v
		case "model":
			cfg.Model = v
		case "request_timeout_seconds":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.RequestTimeout = time.Duration(f * float64(time.Second))
			}
		}
	}
	return cfg
}
