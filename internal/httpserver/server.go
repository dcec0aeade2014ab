package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/taxpoynt/certmgr/internal/common"
)

const shutdownTimeout = 10 * time.Second

// Server runs the API over plain HTTP behind the platform's TLS
// terminator.
type Server struct {
	srv    *http.Server
	logger common.Logger
}

// NewServer builds a server listening on addr.
func NewServer(addr string, handler http.Handler, logger common.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With("component", "server"),
	}
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Infof("listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Infof("shutting down")
	return s.srv.Shutdown(ctx)
}
