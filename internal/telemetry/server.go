package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rjboer/iqsource/internal/logging"
)

// Server exposes the hub's stream statistics and events over HTTP.
type Server struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewServer builds an HTTP server for the hub's endpoints.
func NewServer(addr string, hub *Hub, logger logging.Logger) *Server {
	return &Server{
		hub:    hub,
		logger: logging.OrDefault(logger),
		srv:    &http.Server{Addr: addr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
}

// Serve accepts connections on ln and shuts down when the context is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("telemetry server shutdown", logging.Err(err))
		}
	}()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("telemetry server error", logging.Err(err))
		return err
	}
	return nil
}

// Start listens on the configured address and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
