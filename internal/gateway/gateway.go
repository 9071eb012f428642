// ABOUTME: Gateway orchestrator that owns the HTTP server, store and run launcher
// ABOUTME: Wires auth middleware onto the API routes and manages the server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/runstream/internal/auth"
	"github.com/2389/runstream/internal/config"
	"github.com/2389/runstream/internal/engine"
	"github.com/2389/runstream/internal/run"
	"github.com/2389/runstream/internal/store"
)

// Gateway serves the chat streaming API.
type Gateway struct {
	config     *config.Config
	store      store.Store
	launcher   *run.Launcher
	tools      map[string]engine.Tool
	runs       *runRegistry
	httpServer *http.Server
	logger     *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	engine engine.Engine
	store  store.Store
	tools  map[string]engine.Tool
}

// WithEngine replaces the default echo engine.
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithStore uses s instead of opening database.path.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTools replaces the built-in tool set agents select from.
func WithTools(tools map[string]engine.Tool) Option {
	return func(o *options) { o.tools = tools }
}

// initStore opens the SQLite store named by config or RUNSTREAM_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RUNSTREAM_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		s, err = initStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	if o.engine == nil {
		o.engine = engine.NewEcho(20*time.Millisecond, logger)
	}
	if o.tools == nil {
		o.tools = engine.Builtins()
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		launcher: run.NewLauncher(o.engine, logger),
		tools:    o.tools,
		runs:     newRunRegistry(),
		logger:   logger.With("component", "gateway"),
		now:      time.Now,
	}

	for _, a := range cfg.Agents {
		if _, _, unknown := engine.SelectTools(a.Tools, gw.tools); len(unknown) > 0 {
			gw.logger.Warn("agent references unknown tools", "agent_id", a.ID, "tools", unknown)
		}
	}

	handler, err := gw.routes()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux. API routes are wrapped in auth middleware;
// health endpoints are not.
func (g *Gateway) routes() (http.Handler, error) {
	var verifier auth.TokenVerifier
	if g.config.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	authed := auth.Middleware(verifier, g.logger.With("component", "auth"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.Handle("POST /api/agents/chat", authed(http.HandlerFunc(g.handleChat)))
	mux.Handle("POST /api/agents/chat/abort", authed(http.HandlerFunc(g.handleAbort)))
	mux.Handle("GET /api/balance", authed(http.HandlerFunc(g.handleBalance)))
	mux.Handle("GET /api/stats/usage", authed(http.HandlerFunc(g.handleUsageStats)))
	mux.Handle("GET /api/runs/{id}/usage", authed(http.HandlerFunc(g.handleRunUsage)))
	mux.Handle("GET /api/conversations/{id}/messages", authed(http.HandlerFunc(g.handleConversationMessages)))

	return mux, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on server.http_addr and serves until ctx is cancelled or the
// server fails. It shuts down gracefully before returning.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "agents", len(g.config.Agents))
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown cancels active runs, stops the HTTP server and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if n := g.runs.cancelAll(); n > 0 {
		g.logger.Info("cancelled active runs", "count", n)
	}

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d active runs)", len(g.config.Agents), g.runs.len())
}
