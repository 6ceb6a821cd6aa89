// Package server provides the REST API for media upload and transcription
// job management.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
)

// Server wraps the HTTP server and its service dependencies.
type Server struct {
	config       *common.Config
	logger       *common.Logger
	jobs         interfaces.JobStore
	objects      interfaces.ObjectStore
	submit       interfaces.SubmitService
	quota        interfaces.QuotaService
	server       *http.Server
	shutdownChan chan struct{}
}

// NewServer creates a new HTTP REST API server.
func NewServer(
	config *common.Config,
	logger *common.Logger,
	jobs interfaces.JobStore,
	objects interfaces.ObjectStore,
	submit interfaces.SubmitService,
	quota interfaces.QuotaService,
) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		jobs:    jobs,
		objects: objects,
		submit:  submit,
		quota:   quota,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, logger, config)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
