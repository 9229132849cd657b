package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/app"
	"github.com/anantham/live-conversational-threads-sub000/internal/config"
	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/store/memstore"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
	llmmock "github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm/mock"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
	sttmock "github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:   "127.0.0.1:0",
		MaxBodyBytes: 1 << 20,
		STT: config.STTConfig{
			Model:            "test-model",
			FixedIntervalSec: 0.05,
			LiveTimeout:      time.Second,
			FileTimeout:      time.Second,
		},
		LLM: config.LLMConfig{
			Model:          "test-llm",
			RequestTimeout: time.Second,
		},
		Tune: config.TuningConfig{
			ReconcileWindow:        2 * time.Second,
			AssignOverlapThreshold: 0.3,
			ChunkTargetWords:       1,
			ChunkOverlapWords:      0,
			IdleTimeout:            time.Hour,
			DrainTimeout:           time.Second,
			CancelGrace:            time.Second,
			HTTPOutConcurrency:     4,
			LLMInFlightCap:         4,
			SubscriberQueueSize:    16,
			AudioQueueSeconds:      2,
		},
	}
}

func testProviders() app.Providers {
	sttProv := &sttmock.Provider{}
	llmProv := &llmmock.Provider{Responses: []llmmock.Response{{Content: `{"nodes":[]}`}}}
	return app.Providers{
		STTFactory: func(domain.STTSessionConfig) stt.Provider { return sttProv },
		LLMFactory: func(domain.LLMSessionConfig) llm.Provider { return llmProv },
	}
}

func TestNew_WithMocksRunsAndShutsDown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := app.NewWithOptions(ctx, cfg, nil,
		app.WithStore(memstore.New()),
		app.WithProviders(testProviders()),
	)
	if err != nil {
		t.Fatalf("app.NewWithOptions: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- a.Run(runCtx) }()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cancel()

	select {
	case err := <-runErrCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestBuildMux_HealthzServesOK(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.ListenAddr = "127.0.0.1:0"

	a, err := app.NewWithOptions(ctx, cfg, nil,
		app.WithStore(memstore.New()),
		app.WithProviders(testProviders()),
	)
	if err != nil {
		t.Fatalf("app.NewWithOptions: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
