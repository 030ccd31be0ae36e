// Package server provides the HTTP server for the matchmaker.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/softmatch/internal/config"
	"github.com/devrev/softmatch/internal/handler"
	"github.com/devrev/softmatch/internal/health"
	"github.com/devrev/softmatch/internal/metrics"
	"github.com/devrev/softmatch/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	admin        *handler.AdminHandlers
	healthCheck  *health.HealthCheck
	errorHandler *handler.ErrorHandler
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. Routes are installed by SetupRoutes.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	admin *handler.AdminHandlers,
	healthCheck *health.HealthCheck,
	errorHandler *handler.ErrorHandler,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		admin:        admin,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		gatherer:     gatherer,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.Metrics(s.metrics),
	)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Participant routes
	v1.HandleFunc("/brackets", s.handlers.ListBrackets).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant}/entries/{participant}", s.handlers.Join).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{tenant}/entries/{participant}", s.handlers.Leave).Methods(http.MethodDelete)
	v1.HandleFunc("/tenants/{tenant}/entries/{participant}/presence", s.handlers.Presence).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{session}", s.handlers.GetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{session}/confirm", s.handlers.Confirm).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{session}/reject", s.handlers.Reject).Methods(http.MethodPost)

	// Admin routes
	admin := v1.PathPrefix("/admin").Subrouter()
	if s.cfg.RateLimiter.Enabled {
		limiter := middleware.NewRateLimiter(s.cfg.RateLimiter.RequestsPerSecond, s.cfg.RateLimiter.BurstSize, s.logger)
		admin.Use(limiter.Limit)
	}
	admin.HandleFunc("/queue", s.admin.ListQueues).Methods(http.MethodGet)
	admin.HandleFunc("/queue", s.admin.ClearAll).Methods(http.MethodDelete)
	admin.HandleFunc("/scenarios", s.admin.ListScenarios).Methods(http.MethodGet)
	admin.HandleFunc("/tenants/{tenant}/queue", s.admin.GetQueue).Methods(http.MethodGet)
	admin.HandleFunc("/tenants/{tenant}/queue", s.admin.Clear).Methods(http.MethodDelete)
	admin.HandleFunc("/tenants/{tenant}/entries/{participant}", s.admin.RemoveEntry).Methods(http.MethodDelete)
	admin.HandleFunc("/tenants/{tenant}/entries/{participant}/match", s.admin.ForceMatch).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenant}/partition", s.admin.Partition).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenant}/synthetic", s.admin.AddSynthetic).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenant}/synthetic", s.admin.CleanupSynthetic).Methods(http.MethodDelete)
	admin.HandleFunc("/tenants/{tenant}/scenarios/{name}", s.admin.RunScenario).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenant}/stats", s.admin.Stats).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.MethodNotAllowed)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
