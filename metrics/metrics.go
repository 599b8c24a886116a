// Package metrics exposes Prometheus metrics for the recovery authority
// on a dedicated listener, separate from the API listener.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint and holds the module's
// metric instruments.
type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry

	// RPCRequests counts authority RPC calls by method and outcome.
	RPCRequests *prometheus.CounterVec
}

// New creates a metrics server for the given namespace listening on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rpcRequests := promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: sanitize(namespace),
		Name:      "rpc_requests_total",
		Help:      "Authority RPC requests by method and outcome.",
	}, []string{"method", "outcome"})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv:         &http.Server{Addr: addr, Handler: mux},
		registry:    registry,
		RPCRequests: rpcRequests,
	}, nil
}

// ListenAndServe blocks serving the metrics endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// sanitize maps the module name onto a valid prometheus namespace.
func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
