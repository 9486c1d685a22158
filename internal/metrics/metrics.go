// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestDuration observes HTTP request latency by route and status.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "credential_layer",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// CredentialOps counts lifecycle operations that completed successfully.
	CredentialOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credential_layer",
			Name:      "credential_operations_total",
			Help:      "Completed credential lifecycle operations.",
		},
		[]string{"operation"},
	)

	// SweeperOrphans counts orphaned secret paths reclaimed by the sweeper.
	SweeperOrphans = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "credential_layer",
			Name:      "sweeper_orphans_reclaimed_total",
			Help:      "Orphaned secret-store paths deleted by the sweep job.",
		},
	)
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
