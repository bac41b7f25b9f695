// ABOUTME: Gateway orchestrator that owns the HTTP server lifecycle
// ABOUTME: Wires coordinator, broadcaster, and store behind the API routes

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/glasshouse-dev/glasshouse/internal/auth"
	"github.com/glasshouse-dev/glasshouse/internal/broadcast"
	"github.com/glasshouse-dev/glasshouse/internal/config"
	"github.com/glasshouse-dev/glasshouse/internal/coordinator"
	"github.com/glasshouse-dev/glasshouse/internal/dedupe"
)

const shutdownTimeout = 5 * time.Second

// Dedupe window for message-send idempotency keys.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 10000
)

// Gateway exposes the coordinator and broadcaster over HTTP: JSON endpoints
// for session operations and a persistent SSE stream for outward events.
type Gateway struct {
	config      *config.Config
	coordinator *coordinator.Coordinator
	broadcaster *broadcast.Broadcaster
	dedupe      *dedupe.Cache
	httpServer  *http.Server
	logger      *slog.Logger
}

// New creates a Gateway serving the given coordinator and broadcaster.
func New(cfg *config.Config, coord *coordinator.Coordinator, broadcaster *broadcast.Broadcaster, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:      cfg,
		coordinator: coord,
		broadcaster: broadcaster,
		dedupe:      dedupe.New(dedupeTTL, dedupeMaxSize),
		logger:      logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /healthz", g.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", g.handleStatus)
	api.HandleFunc("GET /api/events", g.handleEvents)
	api.HandleFunc("GET /api/workspaces", g.handleListWorkspaces)
	api.HandleFunc("POST /api/sessions", g.handleCreateSession)
	api.HandleFunc("GET /api/sessions", g.handleListSessions)
	api.HandleFunc("GET /api/sessions/{id}", g.handleGetSession)
	api.HandleFunc("PATCH /api/sessions/{id}", g.handleUpdateSession)
	api.HandleFunc("DELETE /api/sessions/{id}", g.handleDeleteSession)
	api.HandleFunc("POST /api/sessions/{id}/messages", g.handleSendMessage)
	api.HandleFunc("POST /api/sessions/{id}/cancel", g.handleCancel)
	api.HandleFunc("POST /api/sessions/{id}/permission", g.handlePermission)

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		mux.Handle("/api/", auth.Middleware(verifier)(api))
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		mux.Handle("/api/", api)
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	return g, nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.httpServer.Shutdown(shutdownCtx)

	g.broadcaster.Close()
	g.coordinator.Close()
	g.dedupe.Close()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Handler returns the gateway's HTTP handler, for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
