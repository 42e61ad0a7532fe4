package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"photoshare/gatekeeper/pkg/admission"
	"photoshare/gatekeeper/pkg/config"
	"photoshare/gatekeeper/pkg/telemetry/health"
)

// Server is the Gatekeeper HTTP server.
type Server struct {
	config       config.ServerConfig
	manager      *admission.Manager
	checker      *health.Checker
	metricsPath  string
	metricsH     http.Handler
	logger       *slog.Logger
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// Options contains the server's dependencies.
type Options struct {
	// Config is the HTTP server configuration.
	Config config.ServerConfig

	// Manager runs the admission pipeline behind the decision endpoint.
	Manager *admission.Manager

	// Checker backs the readiness endpoint. Optional.
	Checker *health.Checker

	// MetricsHandler is mounted at MetricsPath. Nil disables the endpoint.
	MetricsHandler http.Handler

	// MetricsPath is where the scrape handler is mounted.
	// Default: "/metrics"
	MetricsPath string

	// Logger receives lifecycle log lines.
	Logger *slog.Logger
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Server{
		config:      opts.Config,
		manager:     opts.Manager,
		checker:     opts.Checker,
		metricsPath: opts.MetricsPath,
		metricsH:    opts.MetricsHandler,
		logger:      logger.With("component", "server"),
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server, letting in-flight checks finish.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// Handler returns the configured route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/v1/check", NewCheckHandler(s.manager))
	mux.Handle("/healthz", health.LivenessHandler())
	if s.checker != nil {
		mux.Handle("/readyz", s.checker.ReadinessHandler())
	}
	if s.metricsH != nil {
		mux.Handle(s.metricsPath, s.metricsH)
	}

	return mux
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
