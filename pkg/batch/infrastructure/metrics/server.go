package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MetricsServer exposes a Prometheus registry on /metrics.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
}

// NewMetricsServer creates a server for registry on addr. It does not listen until Start.
func NewMetricsServer(addr string, registry *prometheus.Registry) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &MetricsServer{
		server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Start binds the listen address and serves in the background.
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
	logger.Infof("Metrics server listening on %s.", ln.Addr())
	return nil
}

// Addr returns the bound address, which differs from the configured one when port 0 was used.
func (s *MetricsServer) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
