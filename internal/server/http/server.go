// Package httpserver provides the admin HTTP API for the paper analysis service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/paperstack/analysis-service/internal/batch"
	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/database"
)

// HealthChecker reports database health. Satisfied by *database.DB.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the admin HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	manager    *batch.Manager
	aggregator *batch.Aggregator
	guard      *budget.Guard
	health     HealthChecker
	logger     zerolog.Logger
	adminToken string
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// AdminToken guards the admin routes. An empty token fails every
	// admin request closed instead of letting them through.
	AdminToken string
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	manager *batch.Manager,
	aggregator *batch.Aggregator,
	guard *budget.Guard,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		manager:    manager,
		aggregator: aggregator,
		guard:      guard,
		health:     health,
		logger:     logger.With().Str("component", "http-server").Logger(),
		adminToken: cfg.AdminToken,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints (no auth)
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	// Admin routes behind the bearer token
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(s.adminAuthMiddleware)

		r.Post("/batches", s.startBatch)
		r.Get("/batches", s.listBatchHistory)
		r.Post("/batches/pause", s.pauseBatch)
		r.Post("/batches/resume", s.resumeBatch)
		r.Post("/batches/cancel", s.cancelBatch)
		r.Get("/activity", s.recentActivity)
		r.Get("/status", s.analysisStatus)
		r.Put("/budget", s.setBudget)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
