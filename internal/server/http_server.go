package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// HTTPServer returns an http.Server for the configured port serving Routes.
func (s *Server) HTTPServer() *http.Server {
	return CreateServer(s.cfg.Port, s.Routes())
}

// StartServer starts the HTTP server and blocks until it stops. A graceful
// shutdown is not reported as an error.
func (s *Server) StartServer(srv *http.Server) error {
	s.logger.Info("Server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting HTTP requests, then closes every live connection
// and waits for the client goroutines, each within the configured timeout.
func (s *Server) Shutdown(srv *http.Server) error {
	s.logger.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var httpErr error
	if srv != nil {
		if httpErr = srv.Shutdown(ctx); httpErr != nil {
			s.logger.Warn("HTTP server shutdown error", zap.Error(httpErr))
		}
	}

	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	return errors.Join(httpErr, hubErr)
}
