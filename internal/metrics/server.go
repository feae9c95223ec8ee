package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPath = "/metrics"

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 2 * time.Second
)

// Server exposes the metrics registry over HTTP
type Server struct {
	address string
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates a metrics server listening on address
func NewServer(address string, m *Metrics, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		metrics: m,
		logger:  logger.With(slog.String("component", "metrics")),
	}
}

// Run serves metrics until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(defaultPath, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		Registry: s.metrics.Registry(),
	}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving metrics", slog.String("address", listener.Addr().String()), slog.String("path", defaultPath))

	if err = srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}
