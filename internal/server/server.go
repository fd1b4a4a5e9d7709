// Package server exposes the batch service as a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/service"
)

// UserHeader carries the identity of the requesting user. Authentication
// happens in front of this server.
const UserHeader = "X-Wikibatch-User"

// RequestIDHeader is logged with each request when the client sets it.
const RequestIDHeader = "X-Request-ID"

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

// Options configures optional server behavior.
type Options struct {
	Metrics *metrics.Collector
	Health  HealthFunc
	// EventInterval is how often the events stream polls batch state.
	EventInterval time.Duration
}

// Server routes HTTP requests to the batch service.
type Server struct {
	svc           *service.BatchService
	metrics       *metrics.Collector
	health        HealthFunc
	eventInterval time.Duration
	logger        *slog.Logger
}

// New creates a server for svc.
func New(svc *service.BatchService, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = 2 * time.Second
	}
	return &Server{
		svc:           svc,
		metrics:       opts.Metrics,
		health:        opts.Health,
		eventInterval: opts.EventInterval,
		logger:        logger,
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/batches", s.handleSubmit)
	mux.HandleFunc("POST /api/batches/preview", s.handlePreview)
	mux.HandleFunc("GET /api/batches", s.handleList)
	mux.HandleFunc("GET /api/batches/{id}", s.handleGet)
	mux.HandleFunc("GET /api/batches/{id}/commands", s.handleCommands)
	mux.HandleFunc("POST /api/batches/{id}/allow", s.handleAllow)
	mux.HandleFunc("POST /api/batches/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/batches/{id}/restart", s.handleRestart)
	mux.HandleFunc("POST /api/batches/{id}/rerun", s.handleRerun)
	mux.HandleFunc("GET /api/batches/{id}/report", s.handleReport)
	mux.HandleFunc("GET /api/batches/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	return LoggingMiddleware(s.logger)(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Long enough for large reports; the events stream hijacks its
		// connection and is not bound by it.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
