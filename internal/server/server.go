// Package server exposes a read-only status HTTP API for a running
// scheduler: health, version, job counts, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spoolworks/spool/internal/config"
	"github.com/spoolworks/spool/pkg/state"
)

// JobsFunc returns the identifiers currently present at each lifecycle
// state. Implementations must be safe to call concurrently with a running
// scheduler, i.e. they read storage directly rather than sharing the
// scheduler's adapter.
type JobsFunc func(ctx context.Context) (map[state.State][]string, error)

// Server is the spool status server.
type Server struct {
	router    chi.Router
	logger    *zap.Logger
	cfg       config.ServerConfig
	version   string
	startTime time.Time
	jobs      JobsFunc
	gatherer  prometheus.Gatherer
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithJobs enables the /jobs endpoint.
func WithJobs(fn JobsFunc) Option {
	return func(s *Server) { s.jobs = fn }
}

// WithMetrics enables the /metrics endpoint for the given gatherer.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server with all routes registered.
func New(cfg config.ServerConfig, version string, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With(zap.String("component", "server")),
		cfg:       cfg,
		version:   version,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	if s.jobs != nil {
		s.router.Get("/jobs", s.handleJobs)
	}
	if s.gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
