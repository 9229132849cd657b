package config_test

import (
	"errors"
	"testing"

	"github.com/anantham/live-conversational-threads-sub000/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.MaxBodyBytes != 50*1024*1024 {
		t.Errorf("MaxBodyBytes = %d, want 50MiB", cfg.MaxBodyBytes)
	}
	if !cfg.STT.VADEnabled {
		t.Error("STT.VADEnabled should default true")
	}
	if cfg.Tune.ChunkTargetWords != 200 || cfg.Tune.ChunkOverlapWords != 30 {
		t.Errorf("chunk defaults = %d/%d, want 200/30", cfg.Tune.ChunkTargetWords, cfg.Tune.ChunkOverlapWords)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("STT_VAD_ENABLED", "false")
	t.Setenv("CHUNK_TARGET_WORDS", "50")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.STT.VADEnabled {
		t.Error("STT.VADEnabled should be false")
	}
	if cfg.Tune.ChunkTargetWords != 50 {
		t.Errorf("ChunkTargetWords = %d, want 50", cfg.Tune.ChunkTargetWords)
	}
}

func TestValidate_NoDatabaseIsWarningNotFatal(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.Load()
	if err == nil {
		t.Fatal("expected Validate to surface the no-database condition")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty joined error")
	}
	if !errors.Is(err, config.ErrWarnNoDatabase) {
		t.Fatalf("expected ErrWarnNoDatabase in %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a usable Config alongside the no-database warning")
	}
}

func TestValidate_VADRangeInverted(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("STT_VAD_MIN_SECONDS", "5")
	t.Setenv("STT_VAD_MAX_SECONDS", "1")
	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for inverted VAD range")
	}
}

func TestValidate_ChunkOverlapMustBeLessThanTarget(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("CHUNK_TARGET_WORDS", "10")
	t.Setenv("CHUNK_OVERLAP_WORDS", "10")
	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for overlap >= target")
	}
}
