package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics when a listen address is configured
type Server struct {
	logger *zap.Logger
	addr   string
	srv    *http.Server
	bound  string
	done   chan struct{}
}

// NewServer creates the metrics listener. An empty address disables it.
func NewServer(logger *zap.Logger, cfg domain.Config) *Server {
	Init()
	return &Server{
		logger: logger,
		addr:   cfg.GetMetricsAddr(),
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		s.logger.Debug("Metrics listener disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})
	s.bound = ln.Addr().String()

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Metrics listener started", zap.String("addr", s.bound))
	return nil
}

// Addr returns the bound listen address, empty before Start
func (s *Server) Addr() string {
	return s.bound
}

// Stop shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
