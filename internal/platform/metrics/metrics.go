// Package metrics registers the Prometheus instruments shared across
// handlers and services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the application-wide Prometheus instruments. Domain-specific
// counters live in per-package metrics types; these cover cross-cutting
// concerns.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	NoticesCreated  prometheus.Counter
	ExportsBuilt    prometheus.Counter
	GateLockouts    prometheus.Counter
}

// New creates and registers all shared Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custodia_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		NoticesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_notices_created_total",
			Help: "Total disciplinary notices created.",
		}),
		ExportsBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_evidence_exports_total",
			Help: "Total evidence packages generated.",
		}),
		GateLockouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_gate_lockouts_total",
			Help: "Total identity-gate tokens permanently locked.",
		}),
	}
}
