package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (cohort_...).
const namespace = "cohort"

var (
	// HTTPReqDuration measures the latency of control API requests.
	// Metric: cohort_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts control API requests.
	// Metric: cohort_api_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// SegmentResolveDuration measures membership resolution latency.
	// Resolution is the full-scan step, so this is the histogram to watch
	// on large directories.
	// Metric: cohort_segment_resolve_seconds
	SegmentResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "segment",
		Name:      "resolve_seconds",
		Help:      "Time taken to resolve segment membership",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 120},
	}, []string{"segment"})

	// SegmentSize reports the last refreshed estimated size per segment.
	// Metric: cohort_segment_estimated_size
	SegmentSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "segment",
		Name:      "estimated_size",
		Help:      "Last refreshed estimated member count per segment",
	}, []string{"segment"})

	// SegmentRefreshTotal counts size refresh cycles by outcome.
	// Metric: cohort_segment_refresh_total
	SegmentRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "segment",
		Name:      "refresh_total",
		Help:      "Total segment size refresh operations",
	}, []string{"status"})

	// PushDispatchTotal counts per-variant push dispatches by outcome.
	// Metric: cohort_experiment_push_dispatch_total
	PushDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiment",
		Name:      "push_dispatch_total",
		Help:      "Total variant push dispatches",
	}, []string{"experiment", "status"})

	// MetricIncrementsTotal counts engagement counter increments.
	// Metric: cohort_experiment_metric_increments_total
	MetricIncrementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiment",
		Name:      "metric_increments_total",
		Help:      "Total recorded engagement metric increments",
	}, []string{"metric"})
)
