// Package api serves the workspace and action views over HTTP, with an SSE
// stream of change notifications.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/auth"
	"github.com/mattjoyce/workbench/internal/control"
	"github.com/mattjoyce/workbench/internal/devpod"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/workspace"
)

// DefaultMaxWait caps how long a ?wait=true request may block.
const DefaultMaxWait = 10 * time.Minute

// Store is the read side of the workspace store plus cancellation.
type Store interface {
	GetAll() []workspace.Workspace
	Get(id string) (workspace.Workspace, bool)
	GetAllActions() action.Snapshot
	GetAction(id string) (action.Record, bool)
	GetCurrentAction(workspaceID string) (action.Record, bool)
	CancelAction(workspaceID string) bool
	Wait(ctx context.Context, id string) (action.Record, error)
}

// Runner starts actions.
type Runner interface {
	Do(req control.Request) (string, error)
}

// LogReader returns the captured output of an action.
type LogReader interface {
	Read(ctx context.Context, actionID string) ([]devpod.Event, error)
}

// EventSource is the change feed streamed on /events.
type EventSource interface {
	Subscribe(kinds ...events.Kind) (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxWait caps ?wait=true requests.
	MaxWait time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	keys      *auth.Keyring
	store     Store
	runner    Runner
	logs      LogReader
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. logs may be nil.
func New(config Config, store Store, runner Runner, logs LogReader, events EventSource, logger *slog.Logger) *Server {
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		store:     store,
		runner:    runner,
		logs:      logs,
		events:    events,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams and ?wait=true blocks.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeWorkspacesRead)).Get("/workspaces", s.handleListWorkspaces)
		r.With(s.requireScopes(auth.ScopeWorkspacesRead)).Get("/workspaces/{id}", s.handleGetWorkspace)
		r.With(s.requireScopes(auth.ScopeWorkspacesRW)).Post("/workspaces", s.handleCreateWorkspace)
		r.With(s.requireScopes(auth.ScopeWorkspacesRW)).Post("/workspaces/{id}/{action}", s.handleWorkspaceAction)
		r.With(s.requireScopes(auth.ScopeWorkspacesRW)).Delete("/workspaces/{id}/action", s.handleCancelAction)

		r.With(s.requireScopes(auth.ScopeActionsRead)).Get("/actions", s.handleListActions)
		r.With(s.requireScopes(auth.ScopeActionsRead)).Get("/actions/{id}", s.handleGetAction)
		r.With(s.requireScopes(auth.ScopeActionsRead)).Get("/actions/{id}/logs", s.handleActionLogs)

		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
