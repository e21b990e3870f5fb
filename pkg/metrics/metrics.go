// Package metrics provides Prometheus metrics for the sheets connector.
//
// # Overview
//
// All metrics are registered with the default Prometheus registry through
// promauto and carry a "connector" label holding the configured connector
// name, so several connectors can share one process and one scrape endpoint.
//
// # Basic Usage
//
//	m := metrics.NewCollector("orders")
//	m.SetState(metrics.StateConnected)
//	m.RecordDelivered(time.Since(start))
//	m.RecordRejected("server_failure", time.Since(start))
//
//	// expose on :9090/metrics
//	srv := metrics.NewServer(":9090", logger)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes used as the "outcome" label of RecordsTotal.
const (
	OutcomeDelivered   = "delivered"
	OutcomeRejected    = "rejected"
	OutcomeDecodeError = "decode_error"
)

// Connect attempt results used as the "result" label of ConnectAttempts.
const (
	ConnectSuccess = "success"
	ConnectFailure = "failure"
	ConnectGuard   = "guard"
)

// Connection states reported by the ConnectionState gauge.
const (
	StateReconnecting float64 = 0
	StateConnected    float64 = 1
	StateTerminated   float64 = 2
)

var (
	// RecordsTotal tracks every message taken from the source by outcome
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sheets_records_total",
			Help: "Total number of stream records handled, by outcome",
		},
		[]string{"connector", "outcome"},
	)

	// RejectionsTotal tracks remote rejections by reason
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sheets_rejections_total",
			Help: "Total number of records rejected by the remote endpoint, by reason",
		},
		[]string{"connector", "reason"},
	)

	// ConnectAttempts tracks connection attempts
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sheets_connect_attempts_total",
			Help: "Total number of connection attempts, by result",
		},
		[]string{"connector", "result"},
	)

	// BackoffWait is the wait chosen for the current reconnect attempt
	BackoffWait = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_sheets_backoff_wait_seconds",
			Help: "Current reconnect backoff wait in seconds",
		},
		[]string{"connector"},
	)

	// ConnectionState is 0 while reconnecting, 1 while connected, 2 once terminated
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_sheets_connection_state",
			Help: "Connector state: 0 reconnecting, 1 connected, 2 terminated",
		},
		[]string{"connector"},
	)

	// HTTPRequestsTotal counts requests made by the sink's HTTP clients,
	// token exchanges included
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sheets_http_requests_total",
			Help: "Total number of HTTP requests sent to Google endpoints",
		},
		[]string{"connector", "code", "method"},
	)

	// HTTPRequestDuration measures single HTTP round trips
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_sheets_http_request_duration_seconds",
			Help:    "Duration of HTTP requests sent to Google endpoints",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connector", "method"},
	)

	// DeliveryLatency measures Deliver round trips
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_sheets_delivery_latency_seconds",
			Help:    "Latency of append calls to the remote endpoint",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		},
		[]string{"connector", "outcome"},
	)
)

// Collector records metrics for one connector.
type Collector struct {
	name string
}

// NewCollector creates a new metrics collector for a connector.
func NewCollector(name string) *Collector {
	return &Collector{name: name}
}

// Name returns the connector label value.
func (c *Collector) Name() string {
	return c.name
}

// RecordDelivered counts an accepted record.
func (c *Collector) RecordDelivered(latency time.Duration) {
	RecordsTotal.WithLabelValues(c.name, OutcomeDelivered).Inc()
	DeliveryLatency.WithLabelValues(c.name, OutcomeDelivered).Observe(latency.Seconds())
}

// RecordRejected counts a record the remote endpoint did not accept.
func (c *Collector) RecordRejected(reason string, latency time.Duration) {
	RecordsTotal.WithLabelValues(c.name, OutcomeRejected).Inc()
	RejectionsTotal.WithLabelValues(c.name, reason).Inc()
	DeliveryLatency.WithLabelValues(c.name, OutcomeRejected).Observe(latency.Seconds())
}

// RecordDecodeError counts a message that could not be decoded.
func (c *Collector) RecordDecodeError() {
	RecordsTotal.WithLabelValues(c.name, OutcomeDecodeError).Inc()
}

// RecordConnect counts a connection attempt.
func (c *Collector) RecordConnect(result string) {
	ConnectAttempts.WithLabelValues(c.name, result).Inc()
}

// SetBackoffWait publishes the current backoff wait.
func (c *Collector) SetBackoffWait(wait time.Duration) {
	BackoffWait.WithLabelValues(c.name).Set(wait.Seconds())
}

// SetState publishes the connection state.
func (c *Collector) SetState(state float64) {
	ConnectionState.WithLabelValues(c.name).Set(state)
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer was created
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
