// Package metrics provides Prometheus metrics for the content service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed counts finished job deliveries by queue and outcome.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentgen_jobs_processed_total",
			Help: "Total number of processed queue jobs",
		},
		[]string{"queue", "outcome"},
	)

	// JobDuration tracks handler time per job.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentgen_job_duration_seconds",
			Help:    "Duration of queue job handlers",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"queue"},
	)

	// QueueDepth is sampled by the worker pool.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentgen_queue_depth",
			Help: "Number of jobs per queue and state",
		},
		[]string{"queue", "state"},
	)

	// InferenceRequests counts model calls by operation and outcome.
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentgen_inference_requests_total",
			Help: "Total number of inference requests",
		},
		[]string{"operation", "outcome"},
	)

	// InferenceDuration tracks model latency.
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentgen_inference_duration_seconds",
			Help:    "Duration of inference requests",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// Notifications counts real-time events by outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentgen_notifications_total",
			Help: "Total number of real-time notification frames",
		},
		[]string{"outcome"},
	)

	// ActiveConnections tracks open WebSocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contentgen_ws_connections",
			Help: "Number of currently open WebSocket connections",
		},
	)

	// HTTPRequests counts API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentgen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveJob records the outcome and duration of one job.
func ObserveJob(queue, outcome string, started time.Time) {
	JobsProcessed.WithLabelValues(queue, outcome).Inc()
	JobDuration.WithLabelValues(queue).Observe(time.Since(started).Seconds())
}

// ObserveInference records the outcome and duration of one model call.
func ObserveInference(operation, outcome string, started time.Time) {
	InferenceRequests.WithLabelValues(operation, outcome).Inc()
	InferenceDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
