// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "receipt_assistant"

// Outcome labels for routed tasks.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Registry is the registry served by Handler.
var Registry = prometheus.NewRegistry()

var (
	// TasksTotal counts routed tasks by kind and outcome.
	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Tasks routed by the assistant, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// TaskDuration observes handler latency by kind.
	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Time spent handling a routed task.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})

	// ReceiptsIngested counts stored receipts by review state.
	ReceiptsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "receipts_ingested_total",
		Help:      "Receipts normalized and stored, by whether they need review.",
	}, []string{"needs_review"})

	// JobsTotal counts finished background jobs by final status.
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Background jobs by final status.",
	}, []string{"status"})

	// HTTPRequests counts HTTP requests by method, route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "route", "code"})

	// HTTPDuration observes HTTP latency by route pattern.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TasksTotal,
		TaskDuration,
		ReceiptsIngested,
		JobsTotal,
		HTTPRequests,
		HTTPDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveTask records one routed task.
func ObserveTask(kind, outcome string, elapsed time.Duration) {
	TasksTotal.WithLabelValues(kind, outcome).Inc()
	TaskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveReceipt records one stored receipt.
func ObserveReceipt(needsReview bool) {
	ReceiptsIngested.WithLabelValues(strconv.FormatBool(needsReview)).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
