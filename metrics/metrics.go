// Package metrics defines the scheduler's Prometheus instrumentation and
// the HTTP server that exposes it alongside a health check.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_build_claims_total",
		Help: "Build claim attempts by outcome.",
	}, []string{"outcome"})

	BuildDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_build_duration_seconds",
		Help:    "Wall-clock duration of a build's action_build stage.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	BuildsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_builds_in_flight",
		Help: "Number of builds currently being processed by a Build Runner.",
	})

	TaskClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_claims_total",
		Help: "Recording task claim attempts by outcome.",
	}, []string{"outcome"})

	TaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_task_duration_seconds",
		Help:    "Wall-clock duration of a recording task execution.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"status"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_tasks_in_flight",
		Help: "Number of recording tasks currently being executed.",
	})

	TaskRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_task_retries_total",
		Help: "Total failed recording tasks requeued by Build Runner retry passes.",
	})

	TaskStaleRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_stale_recovered_total",
		Help: "Recording tasks recovered from a stale heartbeat, by outcome.",
	}, []string{"outcome"}) // requeued | failed

	RecorderCallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_recorder_call_duration_seconds",
		Help:    "Duration of one task execution that returned a result: chunk load plus the executor's Recorder.Build call.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	SiteVersionsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_site_versions_published_total",
		Help: "Total site versions published via blue-green publish.",
	})
)
