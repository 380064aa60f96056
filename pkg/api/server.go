package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ldaptoid/ldaptoid/internal/logger"
)

// Server serves the ops HTTP surface: health probes and the Prometheus
// exposition endpoint. It shares nothing with the LDAP listener.
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer creates the ops server on the given listen address.
//
// The server is created stopped. Call Start to begin serving.
func NewServer(addr string, status Status) *Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(status),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{server: server, addr: addr}
}

// Start serves until the context is cancelled or the listener fails.
// Cancellation triggers graceful shutdown and returns nil.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "address", s.addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		// Fresh context: the cancelled one would abort the drain immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("ops server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("ops server shutdown: %w", err)
		} else {
			logger.Info("ops server stopped")
		}
	})
	return shutdownErr
}
