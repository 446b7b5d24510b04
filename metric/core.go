// Package metric provides Prometheus metrics for the Atlas evaluator.
// Platform-level metrics live in Metrics; component-specific metrics are
// registered through the MetricsRegistry.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Evaluation pipeline metrics
	WindowsProcessed    prometheus.Counter
	DatapointsReceived  prometheus.Counter
	MessagesEmitted     *prometheus.CounterVec
	ParseErrors         prometheus.Counter
	EvalDuration        prometheus.Histogram
	ActiveSubscriptions prometheus.Gauge
	NeedSetSize         prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		WindowsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "windows_total",
				Help:      "Total number of time windows evaluated",
			},
		),

		DatapointsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "datapoints_total",
				Help:      "Total number of datapoints received",
			},
		),

		MessagesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "messages_emitted_total",
				Help:      "Total number of output messages emitted",
			},
			[]string{"kind"}, // "timeseries" or "diagnostic"
		),

		ParseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "parse_errors_total",
				Help:      "Total number of subscription expressions that failed to parse",
			},
		),

		EvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "window_duration_seconds",
				Help:      "Time spent evaluating one window across all subscribers",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ActiveSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "active_subscriptions",
				Help:      "Number of currently registered subscriptions",
			},
		),

		NeedSetSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atlas",
				Subsystem: "eval",
				Name:      "need_set_size",
				Help:      "Number of distinct aggregation expressions currently aggregated",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "atlas",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atlas",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atlas",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atlas",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atlas",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordWindowProcessed increments the window counter and observes duration
func (c *Metrics) RecordWindowProcessed(duration time.Duration) {
	c.WindowsProcessed.Inc()
	c.EvalDuration.Observe(duration.Seconds())
}

// RecordDatapoints adds to the datapoint counter
func (c *Metrics) RecordDatapoints(n int) {
	c.DatapointsReceived.Add(float64(n))
}

// RecordMessageEmitted increments the emitted message counter by kind
func (c *Metrics) RecordMessageEmitted(kind string) {
	c.MessagesEmitted.WithLabelValues(kind).Inc()
}

// RecordParseError increments the parse error counter
func (c *Metrics) RecordParseError() {
	c.ParseErrors.Inc()
}

// RecordSubscriptions updates the active subscription and need-set gauges
func (c *Metrics) RecordSubscriptions(active, needSet int) {
	c.ActiveSubscriptions.Set(float64(active))
	c.NeedSetSize.Set(float64(needSet))
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
