package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the HTTP listener. WriteTimeout stays zero so the
// engagement stream can stay open.
type Server struct {
	srv    *stdhttp.Server
	logger *zap.Logger
}

func NewServer(port string, handler stdhttp.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &stdhttp.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.Named("server"),
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.srv.Shutdown(ctx)
}
