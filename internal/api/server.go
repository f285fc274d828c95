// Package api serves the supervisor's read-only status surface over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/nanny/internal/journal"
	"github.com/mattjoyce/nanny/internal/supervisor"
)

// StatusSource is the view of the supervisor the API reads from.
type StatusSource interface {
	State() supervisor.State
	Address() *supervisor.ListeningAddress
	PID() int
	Restarts() int
}

// EventReader reads back journaled events. May be nil when the journal is
// disabled.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds status server configuration.
type Config struct {
	Listen string
	// ConfigDigest is the BLAKE3 digest of the daemon config the supervisor
	// was started with, surfaced on /status.
	ConfigDigest string
}

// Server exposes /healthz, /status and /events.
type Server struct {
	config    Config
	source    StatusSource
	events    EventReader
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new status server.
func New(config Config, source StatusSource, events EventReader, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		source:    source,
		events:    events,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)

	return r
}
