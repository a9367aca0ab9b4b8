// Package server exposes the state store over a minimal HTTP endpoint so the
// front-end process can read and write the shared record without direct file
// access. The server holds no state of its own - every request reads through
// to or writes through to the store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/state"
)

// Server is the state sync HTTP server.
type Server struct {
	server *http.Server
	store  *state.Store
}

// Config holds server configuration.
type Config struct {
	Listen string // Address to listen on (e.g., "127.0.0.1:3380")
}

// New creates a sync server over the given store.
func New(cfg *Config, store *state.Store) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:3380"
	}

	s := &Server{store: store}
	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(h)
	}

	mux.HandleFunc("/internal/state", wrap(s.handleState))
	mux.HandleFunc("/internal/health", wrap(s.handleHealth))

	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	logging.L_info("server: listening", "addr", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L_error("server: serve failed", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.L_info("server: shutting down")
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
