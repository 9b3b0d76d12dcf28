// Package metrics registers the report engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Execution metrics
	ReportExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_executions_total",
			Help: "Total number of report executions by root table and terminal status",
		},
		[]string{"table", "status"},
	)

	ReportExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_execution_duration_seconds",
			Help:    "Duration of report executions against storage in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"table"},
	)

	ReportRowsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_rows_returned",
			Help:    "Rows returned per report execution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		},
		[]string{"table"},
	)

	ReportRowCapTruncations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_row_cap_truncations_total",
			Help: "Executions whose storage result exceeded the row cap and was truncated",
		},
		[]string{"table"},
	)

	// Cache metrics
	ReportCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_cache_lookups_total",
			Help: "Report cache lookups by result (hit, miss, bypass)",
		},
		[]string{"table", "result"},
	)

	ReportCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_cache_errors_total",
			Help: "Report cache store failures by operation",
		},
		[]string{"operation"},
	)

	ReportCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_cache_invalidations_total",
			Help: "Cache entries dropped by explicit invalidation",
		},
		[]string{"table"},
	)

	// Compiler metrics
	ReportCompileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_compile_failures_total",
			Help: "Query specifications rejected by the compiler",
		},
	)

	// Scheduling metrics
	ScheduledReportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_report_runs_total",
			Help: "Scheduled report runs by outcome (succeeded, failed, skipped)",
		},
		[]string{"outcome"},
	)

	ScheduledBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduled_report_batch_duration_seconds",
			Help:    "Duration of one run-due batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Audit metrics
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_audit_write_failures_total",
			Help: "Audit entries that could not be persisted",
		},
	)

	// Storage circuit breaker
	StorageBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "report_storage_breaker_state",
			Help: "Storage circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	StorageBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_storage_breaker_transitions_total",
			Help: "Storage circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_api_requests_total",
			Help: "Total number of report API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_api_request_duration_seconds",
			Help:    "Report API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"route"},
	)
)

// RecordExecution records one finished storage execution.
func RecordExecution(table, status string, duration time.Duration, rows int) {
	ReportExecutions.WithLabelValues(table, status).Inc()
	ReportExecutionDuration.WithLabelValues(table).Observe(duration.Seconds())
	if status == "completed" {
		ReportRowsReturned.WithLabelValues(table).Observe(float64(rows))
	}
}

// RecordCacheLookup records a cache lookup result.
func RecordCacheLookup(table, result string) {
	ReportCacheLookups.WithLabelValues(table, result).Inc()
}

// RecordCacheError records a failed cache store operation.
func RecordCacheError(op string) {
	ReportCacheErrors.WithLabelValues(op).Inc()
}

// RecordScheduledRuns records the outcome counts of one run-due batch.
func RecordScheduledRuns(succeeded, failed, skipped int, duration time.Duration) {
	ScheduledReportRuns.WithLabelValues("succeeded").Add(float64(succeeded))
	ScheduledReportRuns.WithLabelValues("failed").Add(float64(failed))
	ScheduledReportRuns.WithLabelValues("skipped").Add(float64(skipped))
	ScheduledBatchDuration.Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change. States are
// the breaker's own names ("closed", "half-open", "open").
func RecordBreakerTransition(from, to string) {
	StorageBreakerTransitions.WithLabelValues(from, to).Inc()
	switch to {
	case "closed":
		StorageBreakerState.Set(0)
	case "half-open":
		StorageBreakerState.Set(1)
	case "open":
		StorageBreakerState.Set(2)
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
