// Package telemetry defines the Prometheus collectors exported on /metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "adlens"

	// Labels
	statusLabel  = "status"
	outcomeLabel = "outcome"
	reasonLabel  = "reason"
	stageLabel   = "stage"
)

// Outcomes reported for attempts and generation calls.
const (
	OutcomeSuccess  = "success"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeDegraded = "degraded"
)

var jobsSubmittedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "number of jobs accepted for processing",
	},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "number of jobs reaching a terminal status",
	},
	[]string{statusLabel},
)

var attemptsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_attempts_total",
		Help:      "number of execution attempts by outcome",
	},
	[]string{outcomeLabel},
)

var rowsAcceptedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_accepted_total",
		Help:      "number of input rows accepted by validation",
	},
)

var rowsDiscardedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_discarded_total",
		Help:      "number of input rows discarded by validation",
	},
	[]string{reasonLabel},
)

var generationCallsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_calls_total",
		Help:      "number of generation calls by pipeline stage and outcome",
	},
	[]string{stageLabel, outcomeLabel},
)

var jobDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "wall time of successful execution attempts",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
)

func IncJobsSubmitted() { jobsSubmittedMetric.Inc() }

func IncJobsFinished(status string) {
	jobsFinishedMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncAttempts(outcome string) {
	attemptsMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// ObserveRows records the validation outcome of one job run.
func ObserveRows(accepted int, discarded map[string]int) {
	rowsAcceptedMetric.Add(float64(accepted))
	for reason, n := range discarded {
		rowsDiscardedMetric.With(prometheus.Labels{reasonLabel: reason}).Add(float64(n))
	}
}

func IncGenerationCalls(stage, outcome string) {
	generationCallsMetric.With(prometheus.Labels{stageLabel: stage, outcomeLabel: outcome}).Inc()
}

func ObserveJobDuration(d time.Duration) {
	jobDurationMetric.Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(attemptsMetric)
	prometheus.MustRegister(rowsAcceptedMetric)
	prometheus.MustRegister(rowsDiscardedMetric)
	prometheus.MustRegister(generationCallsMetric)
	prometheus.MustRegister(jobDurationMetric)
}
