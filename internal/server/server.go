// Package server provides the HTTP API for sensorguard.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/sensorguard/internal/auth"
	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/detector/model"
	"github.com/HerbHall/sensorguard/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Detector is the slice of the stream registry the API needs.
// Defined here (consumer-side) rather than importing the concrete registry.
type Detector interface {
	Artifact() *model.Artifact
	Predict(sensorID string, w features.Window) detector.Outcome
	Stream(id string) (detector.State, bool)
	Streams() []detector.StreamInfo
	Reset(id string) bool
	Remove(id string) bool
}

var _ Detector = (*detector.Registry)(nil)

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// SimpleRouteRegistrar can register routes without middleware.
type SimpleRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the main sensorguard HTTP server.
type Server struct {
	httpServer *http.Server
	det        Detector
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// New creates a new Server with middleware and routes.
// det may be nil when no model could be loaded; prediction routes then answer
// 503. tokens is optional; pass nil to disable authentication.
// Additional route registrars can be passed to register extra API routes.
func New(cfg Config, det Detector, logger *zap.Logger, ready ReadinessChecker, tokens *auth.TokenService, extraRoutes ...SimpleRouteRegistrar) *Server {
	mux := http.NewServeMux()

	s := &Server{
		det:    det,
		logger: logger,
		mux:    mux,
		ready:  ready,
	}

	s.registerRoutes()
	for _, r := range extraRoutes {
		r.RegisterRoutes(mux)
	}

	unlimited := []string{"/healthz", "/readyz", "/metrics"}

	// Middleware chain: outermost listed first.
	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, unlimited),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, unlimited),
	}
	if tokens != nil {
		middlewares = append(middlewares, auth.AuthMiddleware(tokens))
	}

	handler := Chain(mux, middlewares...)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up all core routes.
func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Versioned API endpoints.
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/predict", auth.RequireRole(auth.RoleOperator, s.handlePredict))
	s.mux.HandleFunc("GET /api/v1/model", auth.RequireRole(auth.RoleViewer, s.handleModel))
	s.mux.HandleFunc("GET /api/v1/streams", auth.RequireRole(auth.RoleViewer, s.handleListStreams))
	s.mux.HandleFunc("GET /api/v1/streams/{id}", auth.RequireRole(auth.RoleViewer, s.handleGetStream))
	s.mux.HandleFunc("DELETE /api/v1/streams/{id}", auth.RequireRole(auth.RoleAdmin, s.handleDeleteStream))
	s.mux.HandleFunc("POST /api/v1/streams/{id}/reset", auth.RequireRole(auth.RoleAdmin, s.handleResetStream))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 once a model is loaded and the
// optional checker passes.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	var err error
	if s.det == nil {
		err = detector.ErrModelUnavailable
	} else if s.ready != nil {
		err = s.ready(r.Context())
	}
	if err != nil {
		msg := err.Error()
		if s.det == nil {
			msg = "model not loaded"
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  msg,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	ModelLoaded bool              `json:"model_loaded"`
	Version     map[string]string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Service:     "sensorguard",
		ModelLoaded: s.det != nil,
		Version:     version.Map(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
