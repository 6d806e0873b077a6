// Package server is the HTTP front end: a JSON API for session and run
// management, a WebSocket endpoint that pumps the bridge to a browser
// terminal, Prometheus metrics, and the playground page itself.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"termbridge/internal/config"
	"termbridge/internal/session"
)

// Server serves the playground over HTTP.
type Server struct {
	cfg    *config.Config
	store  *session.Store
	router *mux.Router
}

// NewServer wires the routes. The store stays owned by the caller.
func NewServer(cfg *config.Config, store *session.Store) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/run", s.handleRun).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/terminal", s.handleTerminal).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout. In-flight runs are abandoned to the client; workers
// are torn down by the store, not here.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	log.Info().
		Str("address", s.cfg.Server.Addr()).
		Msg("Server listening")
	log.Info().Msgf("Playground: http://%s/", s.cfg.Server.Addr())
	log.Info().Msgf("Metrics: http://%s/metrics", s.cfg.Server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
