// Package metrics declares the Prometheus collectors the proxy updates.
// All collectors register themselves on the default registry at package
// init, so anything importing this package can rely on /metrics exposing
// them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters, histograms and gauges.
var (
	// RequestsTotal counts completed requests labelled by endpoint, upstream
	// model id, and the HTTP status code returned to the client.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argoproxy_requests_total",
			Help: "Total number of requests processed by the proxy.",
		},
		[]string{"endpoint", "model", "code"},
	)

	// RequestDuration observes end-to-end request latency in seconds. For
	// streaming requests this covers first byte to last flushed frame.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argoproxy_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)

	// TokensTotal counts tokens by direction ("prompt", "completion") and
	// upstream model id, as accounted in usage blocks.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argoproxy_tokens_total",
			Help: "Total tokens accounted in usage blocks, by direction.",
		},
		[]string{"direction", "model"},
	)

	// UpstreamErrors counts failed upstream calls by kind ("unavailable",
	// "status", "stream", "other").
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argoproxy_upstream_errors_total",
			Help: "Total upstream call failures by kind.",
		},
		[]string{"kind"},
	)

	// ActiveStreams tracks the number of SSE streams currently open to
	// clients, real and fake alike.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argoproxy_active_streams",
			Help: "Number of SSE streams currently being served.",
		},
	)
)
