package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/config"
	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/security/auth"
	"modelbench/gatekeeper/pkg/telemetry/health"
	"modelbench/gatekeeper/pkg/telemetry/metrics"
	"modelbench/gatekeeper/pkg/telemetry/tracing"
)

// Server is the Gatekeeper HTTP server.
type Server struct {
	config     config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         string
}

// Deps are the components the server exposes over HTTP.
type Deps struct {
	// Gate is required.
	Gate *limits.Gate

	// Health serves /health and /ready. Nil serves an always-ready checker.
	Health *health.Checker

	// Metrics serves Prometheus metrics on MetricsPath and records HTTP metrics.
	// Nil disables both.
	Metrics     *metrics.Collector
	MetricsPath string

	// Tracer continues incoming traces. Nil disables HTTP spans.
	Tracer *tracing.Tracer

	// Auth authenticates /v1 requests. Changing limits and budget settings
	// requires the admin role. Nil leaves the API open.
	Auth *auth.Middleware

	// Audit serves GET /v1/audit. It requires the admin role when Auth is set.
	// Nil leaves the route unregistered.
	Audit audit.Storage

	// TLS terminates TLS on the listener when set.
	TLS *tls.Config

	// Version is served on /version.
	Version health.VersionInfo

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewServer creates a new server.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultMetricsPath
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
	}
}

// Start listens on the configured address and serves until ctx is cancelled or
// the server fails. Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.addr = ln.Addr().String()
	if s.deps.TLS != nil {
		ln = tls.NewListener(ln, s.deps.TLS)
	}
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", s.addr, "tls", s.deps.TLS != nil)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully shuts down the server within the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		srv := s.httpServer
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the address the server listens on, empty before Serve.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
