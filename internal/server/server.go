package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/events"
	"github.com/ternarybob/igor/internal/handlers"
)

// Handlers bundles the request handlers the server routes to.
type Handlers struct {
	Jobs       *handlers.JobHandler
	Bootstrap  *handlers.BootstrapHandler
	Testsuites *handlers.TestsuiteHandler
	Testplans  *handlers.TestplanHandler
	Profiles   *handlers.ProfileHandler
	Events     *events.WebSocketHandler // nil disables /events
}

// Server manages the HTTP server and routes.
type Server struct {
	config   *common.Config
	handlers Handlers
	logger   arbor.ILogger
	router   *http.ServeMux
	server   *http.Server
}

// New creates a new HTTP server.
func New(config *common.Config, h Handlers, logger arbor.ILogger) *Server {
	s := &Server{
		config:   config,
		handlers: h,
		logger:   logger,
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
