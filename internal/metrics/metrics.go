// Package metrics holds the Prometheus collectors for the termbridge
// server. Collectors register themselves on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "termbridge_sessions_active",
			Help: "Number of live playground sessions",
		},
	)

	SessionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termbridge_session_operations_total",
			Help: "Session operations by outcome",
		},
		[]string{"operation", "status"},
	)

	WorkerStartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "termbridge_worker_start_duration_seconds",
			Help:    "Worker spawn plus shared memory handshake latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Program runs

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termbridge_runs_total",
			Help: "Program runs by outcome",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "termbridge_run_duration_seconds",
			Help:    "Program run duration in seconds",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300, 600},
		},
	)

	// Bridge traffic

	OutputBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "termbridge_output_bytes_total",
			Help: "Program output bytes delivered to hosts",
		},
	)

	OutputDroppedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "termbridge_output_dropped_bytes_total",
			Help: "Program output bytes dropped because the output ring was full",
		},
	)

	KeyEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "termbridge_key_events_total",
			Help: "Key events forwarded to workers",
		},
	)

	CancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "termbridge_cancellations_total",
			Help: "Cancellation requests issued by hosts",
		},
	)

	// Terminal attachments

	TerminalsAttached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "termbridge_terminals_attached",
			Help: "WebSocket terminals currently attached to sessions",
		},
	)
)
