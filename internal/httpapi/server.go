package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Server wraps http.Server with context-driven graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger.Named("http_server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("address", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server ListenAndServe error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	<-errCh
	s.logger.Info("HTTP server stopped.")
	return nil
}
