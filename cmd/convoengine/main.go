// Command convoengine is the main entry point for the live-conversation
// ingestion and analysis server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/app"
	"github.com/anantham/live-conversational-threads-sub000/internal/config"
	"github.com/anantham/live-conversational-threads-sub000/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil && !warningOnly(err) {
		fmt.Fprintf(os.Stderr, "convoengine: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger()
	slog.SetDefault(logger)

	if err != nil {
		// Validate joined a non-fatal warning (no DATABASE_URL configured);
		// surface it loudly but keep starting.
		logger.Warn("startup configuration warning", "error", err)
	}

	slog.Info("convoengine starting",
		"listen_addr", cfg.ListenAddr,
		"auth_enabled", cfg.AuthToken != "",
		"vad_enabled", cfg.STT.VADEnabled,
		"database_configured", cfg.DatabaseURL != "",
	)

	// ── Telemetry ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "convoengine",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// ── Application wiring ────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.ListenAddr)

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, draining sessions…", "active_sessions", application.ActiveSessions())
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// warningOnly reports whether err is solely config.Validate's "no
// DATABASE_URL" advisory (joined errors that do not include it are still
// fatal).
func warningOnly(err error) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return errors.Is(err, config.ErrWarnNoDatabase)
	}
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, config.ErrWarnNoDatabase) {
			return false
		}
	}
	return true
}

// newLogger builds the process-wide structured logger. Level is fixed at
// info in production; set LOG_LEVEL=debug for verbose session tracing.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
