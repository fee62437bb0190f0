// Package server exposes a rate limit gate over HTTP: a rate limited demo
// endpoint, tenant administration, health and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

// Server serves the HTTP API of ratelimitd.
type Server struct {
	gate     *limiter.Gate
	resolver limiter.TenantResolver
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger

	addr            string
	shutdownTimeout time.Duration
	version         string

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address (default "127.0.0.1:8080").
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry sets the registry served on /metrics. HTTP metrics are
// registered with it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithResolver sets how tenants and plans are read from requests.
func WithResolver(r limiter.TenantResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithShutdownTimeout bounds graceful shutdown (default 10s).
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a Server in front of gate.
func New(gate *limiter.Gate, opts ...Option) *Server {
	s := &Server{
		gate:            gate,
		resolver:        limiter.DefaultHeaderResolver(),
		logger:          slog.Default(),
		addr:            "127.0.0.1:8080",
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	limit := limiter.Middleware(s.gate, s.resolver, s.logger)
	mux.Handle("GET /v1/ping", s.instrument("ping", limit(http.HandlerFunc(s.handlePing))))

	mux.Handle("GET /admin/tenants", s.instrument("list_tenants", http.HandlerFunc(s.handleListTenants)))
	mux.Handle("GET /admin/tenants/{tenant}/usage", s.instrument("tenant_usage", http.HandlerFunc(s.handleUsage)))
	mux.Handle("DELETE /admin/tenants/{tenant}/usage", s.instrument("reset_tenant", http.HandlerFunc(s.handleReset)))

	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	return RequestIDMiddleware(s.logger)(mux)
}

func (s *Server) instrument(route string, h http.Handler) http.Handler {
	return MetricsMiddleware(s.metrics, route)(h)
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String(), "backend", s.gate.Backend())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
