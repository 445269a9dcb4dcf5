// Package metrics exposes Prometheus instrumentation for the sync
// server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpsCommitted counts operations accepted into revision logs.
	OpsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_ops_committed_total",
			Help: "Total operations committed, by document",
		},
		[]string{"doc"},
	)

	// OpsRejected counts submissions rejected before commit.
	OpsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_ops_rejected_total",
			Help: "Total operation submissions rejected, by reason",
		},
		[]string{"reason"},
	)

	// BroadcastsSent counts fan-out messages queued to sessions.
	BroadcastsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cowrite_broadcasts_sent_total",
			Help: "Total broadcast messages queued to sessions",
		},
	)

	// ConnectedSessions tracks live editing sessions.
	ConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cowrite_connected_sessions",
			Help: "Number of connected editing sessions",
		},
	)

	// SubmitDuration observes the serialized transform-and-commit path.
	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cowrite_submit_duration_seconds",
			Help:    "Time spent transforming and committing one operation",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// HeartbeatRTT observes per-session heartbeat round trips.
	HeartbeatRTT = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cowrite_heartbeat_rtt_seconds",
			Help:    "Heartbeat round-trip time per session",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
)

// ObserveSubmit records one commit attempt.
func ObserveSubmit(doc string, start time.Time, err error) {
	SubmitDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		OpsCommitted.WithLabelValues(doc).Inc()
	}
}
