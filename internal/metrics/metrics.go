// Package metrics holds the Prometheus collectors for briefsmith.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "briefsmith"

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Generation oracle latency in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"phase"},
	)

	BriefsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "briefs_extracted_total",
			Help:      "Brief extraction attempts by result (ok, none, invalid)",
		},
		[]string{"result"},
	)

	PersistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed store writes by operation",
		},
		[]string{"op"},
	)

	SessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live",
			Help:      "Conversation sessions held in memory",
		},
	)

	MockupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mockups_total",
			Help:      "Mockup generations by status",
		},
		[]string{"status"},
	)
)

// ObserveOracle records an oracle call that started at start.
func ObserveOracle(phase string, start time.Time) {
	OracleRequestDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
