// Package app wires every subsystem of the conversation ingestion service
// into a runnable HTTP server.
//
// App owns the full lifecycle: New creates and connects the store,
// providers, limiter, session registry, and HTTP handlers; Run starts the
// listener and blocks until the context is cancelled; Shutdown drains
// in-flight sessions and closes the store.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anantham/live-conversational-threads-sub000/internal/config"
	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/health"
	"github.com/anantham/live-conversational-threads-sub000/internal/ingress"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/internal/observe"
	"github.com/anantham/live-conversational-threads-sub000/internal/resilience"
	"github.com/anantham/live-conversational-threads-sub000/internal/session"
	"github.com/anantham/live-conversational-threads-sub000/internal/store"
	"github.com/anantham/live-conversational-threads-sub000/internal/store/memstore"
	"github.com/anantham/live-conversational-threads-sub000/internal/store/postgres"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/llm/openai"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt/httpclient"
)

// Providers holds the two outbound provider slots the registry needs to
// construct session-scoped STT/LLM clients. Built from cfg by default, or
// injected directly in tests via [WithProviders].
type Providers struct {
	// STTFactory builds a session-scoped STT provider from that session's
	// frozen config snapshot.
	STTFactory session.STTProviderFactory

	// LLMFactory builds a session-scoped LLM provider.
	LLMFactory session.LLMProviderFactory
}

// App owns every subsystem's lifetime.
type App struct {
	cfg *config.Config

	store    store.Store
	lim      *limiter.Limiter
	registry *session.Registry
	metrics  *observe.Metrics
	srv      *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New], used to inject test doubles.
type Option func(*App, *Providers)

// WithStore injects a store instead of creating one from cfg.DatabaseURL.
func WithStore(st store.Store) Option {
	return func(a *App, _ *Providers) { a.store = st }
}

// WithProviders injects STT/LLM factories instead of building them from
// cfg (e.g. to point both at mock providers in an integration test).
func WithProviders(p Providers) Option {
	return func(_ *App, dst *Providers) { *dst = p }
}

// New wires the store, limiter, providers, session registry, and HTTP
// handlers into a ready-to-[Run] App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	return newApp(ctx, cfg, logger)
}

// NewWithOptions is like New but accepts functional options, for tests that
// need to inject a store or mock providers.
func NewWithOptions(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	return newApp(ctx, cfg, logger, opts...)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg}
	var providers Providers

	for _, o := range opts {
		o(a, &providers)
	}

	// ── 1. Store ──────────────────────────────────────────────────────────
	if a.store == nil {
		if err := a.initStore(ctx, logger); err != nil {
			return nil, fmt.Errorf("app: init store: %w", err)
		}
	}

	// ── 2. Global concurrency limiter ────────────────────────────────────
	a.lim = limiter.New(cfg.Tune.HTTPOutConcurrency, cfg.Tune.LLMInFlightCap)

	// ── 3. Providers ──────────────────────────────────────────────────────
	// Each session gets its own breaker instance rather than a
	// process-wide shared one, since a session_meta override lets a
	// session point at a different URL than the environment default — a
	// breaker tripped against one endpoint must not fail fast against an
	// unrelated one.
	if providers.STTFactory == nil {
		providers.STTFactory = func(c domain.STTSessionConfig) stt.Provider {
			inner := httpclient.New(c.URL, c.PoolEnabled)
			return resilience.NewBreakerSTTProvider(inner, "stt:"+c.URL, resilience.CircuitBreakerConfig{})
		}
	}
	if providers.LLMFactory == nil {
		providers.LLMFactory = buildLLMFactory(logger)
	}

	// ── 4. Session registry ───────────────────────────────────────────────
	a.registry = session.New(*cfg, a.store, a.lim, logger, providers.STTFactory, providers.LLMFactory)

	// ── 5. Metrics ────────────────────────────────────────────────────────
	a.metrics = observe.DefaultMetrics()

	// ── 6. HTTP handlers ──────────────────────────────────────────────────
	mux := a.buildMux(logger)
	a.srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	return a, nil
}

// initStore opens the PostgreSQL store when DatabaseURL is configured,
// otherwise falls back to the in-memory store (per config.Validate's
// documented warning).
func (a *App) initStore(ctx context.Context, logger *slog.Logger) error {
	if a.cfg.DatabaseURL == "" {
		logger.Warn("no DATABASE_URL configured, using in-memory event store")
		a.store = memstore.New()
		return nil
	}

	const embeddingDimensions = 1536 // sensible default for OpenAI text-embedding-3-small; unused on the live ingestion path
	st, err := postgres.NewStore(ctx, a.cfg.DatabaseURL, embeddingDimensions)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error { st.Close(); return nil })
	return nil
}

// buildLLMFactory constructs session-scoped LLM providers against the
// configured OpenAI-compatible endpoint. The API key is read once from the
// environment at startup (OPENAI_API_KEY), not per-session, since it is an
// operator credential rather than a per-request override.
func buildLLMFactory(logger *slog.Logger) session.LLMProviderFactory {
	return func(c domain.LLMSessionConfig) llm.Provider {
		p, err := openai.New(apiKeyFromEnv(), c.Model,
			openai.WithBaseURL(c.URL),
			openai.WithTimeout(c.RequestTimeout),
		)
		if err != nil {
			logger.Error("app: failed to construct LLM provider, falling back to a provider that errors on every call", "error", err)
			return failingLLMProvider{err: err}
		}
		return resilience.NewBreakerLLMProvider(p, "llm:"+c.URL, resilience.CircuitBreakerConfig{})
	}
}

// buildMux registers every HTTP route: the two ingress adapters, health
// checks, and the Prometheus scrape endpoint.
func (a *App) buildMux(logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	wsHandler := ingress.NewWSHandler(a.registry, a.cfg.AuthToken, logger)
	mux.Handle("/ws/transcripts", wsHandler)

	fileSTT := resilience.NewBreakerSTTProvider(httpclient.New(a.cfg.STT.URL, false), "stt-upload:"+a.cfg.STT.URL, resilience.CircuitBreakerConfig{})
	fileHandler := ingress.NewFileHandler(a.registry, a.store, fileSTT, a.cfg.AuthToken, a.cfg.MaxBodyBytes, logger)
	mux.Handle("POST /api/import/process-file", fileHandler)

	h := health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.EnsureConversation(ctx, domain.Conversation{ConversationID: "healthcheck"})
			return err
		},
	})
	h.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Run starts the HTTP listener and blocks until ctx is cancelled or the
// server fails to serve.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the HTTP server (allowing in-flight requests —
// including long-lived WebSocket/SSE connections — up to ctx's deadline to
// finish) and then releases the store.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if err := a.srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("app: http shutdown: %w", err)
		}
		for _, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "error", err)
			}
		}
	})
	return shutdownErr
}

// ActiveSessions returns the number of live sessions, for shutdown logging.
func (a *App) ActiveSessions() int { return a.registry.Count() }

// Handler returns the root HTTP handler, for tests that want to drive
// requests through [net/http/httptest] without binding a real listener.
func (a *App) Handler() http.Handler { return a.srv.Handler }

// apiKeyFromEnv reads the OpenAI-compatible API key. Kept as a package
// variable so tests can stub it without touching the process environment.
var apiKeyFromEnv = func() string {
	return os.Getenv("OPENAI_API_KEY")
}

// failingLLMProvider implements [llm.Provider] by returning the
// construction error on every call, so a misconfigured LLM endpoint fails
// loudly on first use instead of panicking at startup.
type failingLLMProvider struct{ err error }

func (f failingLLMProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, f.err
}

func (f failingLLMProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, f.err
}
