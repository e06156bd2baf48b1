// Package metrics holds the Prometheus instrumentation for the
// detection core, grounded on the reference platform's metrics server
// wiring (cmd/pulse/metrics_server.go).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DetectionLatency records total wall-clock time spent in
	// Orchestrator.Evaluate, per policy.
	DetectionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botwall",
		Subsystem: "detect",
		Name:      "latency_seconds",
		Help:      "Time spent evaluating a request through the detection pipeline.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"policy"})

	// ContributionsTotal counts detector contributions by detector and
	// category.
	ContributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botwall",
		Subsystem: "detect",
		Name:      "contributions_total",
		Help:      "Total detector contributions recorded, by detector name and category.",
	}, []string{"detector", "category"})

	// DetectorFailuresTotal counts recoverable detector evaluation
	// failures.
	DetectorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botwall",
		Subsystem: "detect",
		Name:      "detector_failures_total",
		Help:      "Total recoverable detector evaluation failures, by detector name.",
	}, []string{"detector"})

	// LearningQueueDepth reports the Learning Coordinator's submitted
	// minus processed backlog. No code in this module sets it.
	LearningQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "botwall",
		Subsystem: "learning",
		Name:      "queue_depth",
		Help:      "Outstanding learning tasks not yet processed.",
	})

	// LearningTasksDroppedTotal counts learning tasks dropped due to a
	// full per-signal-key worker queue.
	LearningTasksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "botwall",
		Subsystem: "learning",
		Name:      "tasks_dropped_total",
		Help:      "Total learning tasks dropped because their worker queue was full.",
	})

	// VerdictCacheHitRatio reports the Weight & Reputation Store's
	// cache hit ratio as a gauge. No code in this module sets it.
	VerdictCacheHitRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "botwall",
		Subsystem: "reputation",
		Name:      "verdict_cache_hit_ratio",
		Help:      "Fraction of requests served from the cached-verdict fast path.",
	})

	// ActionsTotal counts resolved actions by kind and risk band.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botwall",
		Subsystem: "action",
		Name:      "actions_total",
		Help:      "Total actions resolved, by action kind and risk band.",
	}, []string{"action", "risk_band"})
)

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
