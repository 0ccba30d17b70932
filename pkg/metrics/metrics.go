// Package metrics provides Prometheus metrics for batchsync runs.
//
// # Overview
//
// All collectors are registered with the default registry through promauto.
// A sync run is a short-lived job that cannot be scraped, so the collected
// values are pushed to a Prometheus Pushgateway at the end of the run when a
// push URL is configured.
//
// # Basic Usage
//
//	// Count delivered records
//	metrics.RecordsDelivered.WithLabelValues("stream", metrics.StatusSucceeded).Add(1000)
//
//	// Time a delivery call
//	timer := metrics.NewTimer("deliver")
//	outcome := client.Deliver(ctx, b, creds)
//	metrics.DeliveryLatency.WithLabelValues(metrics.StatusSucceeded).Observe(timer.Stop().Seconds())
//
//	// Push at the end of the run
//	_ = metrics.Push(ctx, "http://pushgateway:9091", "batchsync")
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Status label values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run outcome label values.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeReported   = "reported"
	OutcomeAborted    = "aborted"
)

var (
	// RecordsDelivered counts records by delivery status.
	// Labels: kind (stream/table), status (succeeded/failed)
	RecordsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_records_total",
			Help: "Records processed, by delivery status",
		},
		[]string{"kind", "status"},
	)

	// Batches counts delivery calls by status.
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_batches_total",
			Help: "Delivery calls, by status",
		},
		[]string{"status"},
	)

	// DeliveryLatency tracks the duration of delivery calls in seconds.
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchsync_delivery_duration_seconds",
			Help:    "Duration of profile API delivery calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// RowErrors counts rows that could not be mapped.
	RowErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batchsync_row_errors_total",
			Help: "Rows that failed attribute mapping",
		},
	)

	// RunOutcomes counts finished runs by outcome.
	// Labels: kind (stream/table), outcome (committed/rolled_back/reported/aborted)
	RunOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_runs_total",
			Help: "Sync runs, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// HTTPRequests counts outbound HTTP requests.
	// Labels: method, host, code ("error" for transport failures)
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_http_requests_total",
			Help: "Outbound HTTP requests",
		},
		[]string{"method", "host", "code"},
	)

	// HTTPRequestDuration tracks outbound HTTP latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchsync_http_request_duration_seconds",
			Help:    "Outbound HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "host"},
	)
)

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Push sends every registered metric to the Pushgateway at url under job.
func Push(ctx context.Context, url, job string) error {
	return PushFrom(ctx, prometheus.DefaultGatherer, url, job)
}

// PushFrom pushes the metrics of a specific gatherer.
func PushFrom(ctx context.Context, g prometheus.Gatherer, url, job string) error {
	return push.New(url, job).Gatherer(g).PushContext(ctx)
}
