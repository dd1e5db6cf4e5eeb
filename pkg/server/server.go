// Package server exposes the engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/engine"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

const shutdownTimeout = 30 * time.Second

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Address is host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server serves the engine API.
type Server struct {
	router *mux.Router
	engine *engine.Engine
	store  planstore.Store
	config *Config
	server *http.Server

	running sync.Map // ids of plans currently executing
}

// New creates a server over eng and store. Every registry the engine's holder
// installs from now on is recorded in store.
func New(config *Config, eng *engine.Engine, store planstore.Store) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		store:  store,
		config: config,
	}
	eng.Holder().OnReload(func(reg *registry.Registry) {
		s.recordRegistry(context.Background(), reg)
	})
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/agents/{name}", s.handleGetAgent).Methods("GET")
	api.HandleFunc("/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/dispatch", s.handleDispatch).Methods("POST")
	api.HandleFunc("/plans", s.handleListPlans).Methods("GET")
	api.HandleFunc("/plans/{id}", s.handleGetPlan).Methods("GET")
	api.HandleFunc("/plans/{id}/run", s.handleRunPlan).Methods("POST")
	api.HandleFunc("/registry", s.handleGetRegistry).Methods("GET")
	api.HandleFunc("/registry/reload", s.handleReloadRegistry).Methods("POST")
	api.HandleFunc("/version", s.handleVersion).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.recordRegistry(ctx, s.engine.Holder().Current())
	logger.G(ctx).WithField("address", s.config.Address()).Info("Starting switchboard API server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server stopped")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) recordRegistry(ctx context.Context, reg *registry.Registry) {
	if err := s.store.RecordRegistry(ctx, planstore.RecordOf(reg)); err != nil {
		logger.G(ctx).WithError(err).WithField("registry_version", reg.Version()).Warn("failed to record registry version")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status"`
	Success bool   `json:"success"`
	Details any    `json:"details,omitempty"`
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error, details any) {
	if err != nil && status >= http.StatusInternalServerError {
		logger.G(ctx).WithError(err).Error(message)
	}
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	writeJSON(ctx, w, status, errorResponse{
		Error:   message,
		Code:    code,
		Status:  status,
		Details: details,
	})
}
