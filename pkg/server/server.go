package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailroute/mailroute/pkg/buildinfo"
	"github.com/mailroute/mailroute/pkg/logging"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts the ingestion, chat, health and metrics endpoints.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
	health     []HealthChecker
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecks registers dependencies probed by /healthz.
func WithHealthChecks(checks ...HealthChecker) Option {
	return func(s *Server) {
		s.health = append(s.health, checks...)
	}
}

// New builds the HTTP server on the given port.
func New(port int, ingest *IngestHandler, chat *ChatHandler, registry *prometheus.Registry, opts ...Option) *Server {
	s := &Server{
		logger: logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "server"))

	mux := http.NewServeMux()
	mux.Handle("/ingest", ingest)
	mux.Handle("/chat", chat)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/version", buildinfo.Handler())
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,

		ReadTimeout: 30 * time.Second,
		// Processing a full envelope can take the whole pipeline budget
		// per event, so the write timeout stays generous.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", logging.F("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, check := range s.health {
		if err := check.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
