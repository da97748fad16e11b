// Package server provides the admin HTTP server for the admission
// coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits"
	"mercator-hq/sluice/pkg/telemetry/health"
	"mercator-hq/sluice/pkg/telemetry/logging"
	"mercator-hq/sluice/pkg/telemetry/metrics"
	"mercator-hq/sluice/pkg/telemetry/tracing"
)

// Options carries the server's collaborators.
type Options struct {
	// Logger receives request and lifecycle logs. Default: slog.Default().
	Logger *slog.Logger

	// Gatherer backs the metrics endpoint. Default: the coordinator's.
	Gatherer prometheus.Gatherer

	// Version is reported by the version endpoint.
	Version health.VersionInfo
}

// Server exposes health probes, metrics and the /v1 admin API for one
// coordinator.
type Server struct {
	config    config.AdminConfig
	telemetry config.TelemetryConfig
	coord     *limits.Coordinator
	checker   *health.Checker
	gatherer  prometheus.Gatherer
	info      health.VersionInfo
	logger    *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// New creates an admin server. cfg must already have defaults applied.
func New(cfg *config.Config, coord *limits.Coordinator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = coord.Gatherer()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	info := opts.Version
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}

	s := &Server{
		config:    cfg.Admin,
		telemetry: cfg.Telemetry,
		coord:     coord,
		checker:   health.New(cfg.Telemetry.Health.CheckTimeout),
		gatherer:  gatherer,
		info:      info,
		logger:    logging.Component(logger, "server"),
	}
	s.registerChecks()
	return s
}

// registerChecks wires readiness to the coordinator. A stopped coordinator
// makes the server unready; limiter conditions only degrade it.
func (s *Server) registerChecks() {
	s.checker.RegisterCheck("coordinator", func(ctx context.Context) error {
		if !s.coord.Running() {
			return limits.ErrNotStarted
		}
		return nil
	})
	s.checker.RegisterAdvisoryCheck("limits", func(ctx context.Context) error {
		h := s.coord.HealthCheck(ctx)
		if h.Status == limits.HealthOK {
			return nil
		}
		return fmt.Errorf("%s: %s", h.Status, strings.Join(h.Flags, ","))
	})
}

// Start listens on the configured address and serves until ctx is
// cancelled or Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("admin server listening", "address", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
}

// Shutdown stops accepting connections and waits up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		s.isRunning = false
		s.mu.Unlock()

		if srv == nil {
			return
		}

		s.logger.Info("shutting down admin server", "timeout", s.config.ShutdownTimeout)

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			return
		}
		s.logger.Info("admin server stopped")
	})

	return shutdownErr
}

// Handler returns the complete HTTP handler with middleware.
// Useful for testing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.checker.Mount(mux, health.Paths{
		Liveness:  s.telemetry.Health.LivenessPath,
		Readiness: s.telemetry.Health.ReadinessPath,
		Version:   s.telemetry.Health.VersionPath,
	}, s.info, s.telemetry.Health.RateLimit)

	if !s.telemetry.Metrics.Disabled {
		mux.Handle("GET "+s.telemetry.Metrics.Path, metrics.Handler(s.gatherer, s.logger))
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/stats", s.handleStats)
	api.HandleFunc("POST /v1/admin/reset", s.handleReset)
	api.HandleFunc("POST /v1/admission/check", s.handleCheck)
	api.HandleFunc("POST /v1/admission/outcome", s.handleOutcome)
	api.HandleFunc("POST /v1/admission/cost", s.handleCost)
	api.HandleFunc("GET /v1/quotas", s.handleListQuotas)
	api.HandleFunc("GET /v1/quotas/{caller}", s.handleGetQuota)
	api.HandleFunc("PUT /v1/quotas/{caller}", s.handlePutQuota)
	api.HandleFunc("DELETE /v1/quotas/{caller}", s.handleDeleteQuota)

	var limiter *rate.Limiter
	if s.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), max(s.config.RateBurst, 1))
	}
	mux.Handle("/v1/", Chain(api, RateLimitMiddleware(limiter)))

	// Order matters: recovery is outermost so it sees every panic.
	return Chain(mux,
		RecoveryMiddleware(s.logger),
		RequestIDMiddleware,
		tracing.HTTPMiddleware,
		LoggingMiddleware(s.logger),
	)
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Checker returns the health checker so callers can register more checks.
func (s *Server) Checker() *health.Checker {
	return s.checker
}
