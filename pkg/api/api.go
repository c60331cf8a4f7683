// Package api exposes the HTTP control surface: authentication, domain list
// management, log search, and runtime introspection.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/storage"
)

// Server represents the API server
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger

	store     storage.Store
	secretKey []byte
	tokenTTL  time.Duration

	version   string
	startTime time.Time
}

// New creates a new API server
func New(cfg *config.APIConfig, store storage.Store, logger *logging.Logger, version string) *Server {
	s := &Server{
		store:     store,
		logger:    logger.With("component", "api"),
		secretKey: []byte(cfg.SecretKey),
		tokenTTL:  cfg.TokenTTL,
		version:   version,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Authenticated endpoints
	mux.Handle("GET /api/domain-logs", s.requireAuth(http.HandlerFunc(s.handleDomainLogs)))
	mux.Handle("GET /api/system", s.requireAuth(http.HandlerFunc(s.handleSystem)))
	mux.Handle("GET /api/lists/stats", s.requireAuth(http.HandlerFunc(s.handleListStats)))
	mux.Handle("GET /api/lists/{source}/{list_type}/domains", s.requireAuth(http.HandlerFunc(s.handleGetDomains)))
	mux.Handle("POST /api/lists/manual/{list_type}/domains", s.requireAuth(http.HandlerFunc(s.handleAddDomain)))
	mux.Handle("DELETE /api/lists/{source}/{list_type}/domains/{domain}", s.requireAuth(http.HandlerFunc(s.handleDeleteDomain)))

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the API server
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}
