package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
)

// Server exposes /metrics and /healthz on a dedicated listener
type Server struct {
	srv *http.Server
}

// NewServer creates the observability HTTP server on addr
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", HealthHandler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in a background goroutine
func (s *Server) Start() {
	logger := log.WithComponent("metrics")
	go func() {
		logger.Info().Str("addr", s.srv.Addr).Msg("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
