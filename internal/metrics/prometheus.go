// Package metrics defines the Prometheus metric set for the probe engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Monitron
type Metrics struct {
	// Counters
	ChecksTotal      *prometheus.CounterVec
	ProbeErrorsTotal *prometheus.CounterVec
	ClaimsTotal      prometheus.Counter
	DispatchedTotal  *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec

	// Gauges
	ChecksRunning prometheus.Gauge
	QueueDepth    prometheus.Gauge

	// Histograms
	CheckDuration *prometheus.HistogramVec
	ProbeLatency  *prometheus.HistogramVec
	ClaimBatch    prometheus.Histogram

	// HTTP-specific
	HTTPStatusCodes *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitron_checks_total",
				Help: "Total number of monitor checks performed",
			},
			[]string{"outcome"},
		),

		ProbeErrorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitron_probe_errors_total",
				Help: "Total number of probe transport and timeout errors",
			},
			[]string{"kind"},
		),

		ClaimsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "monitron_claims_total",
				Help: "Total number of monitors claimed by the scheduler",
			},
		),

		DispatchedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitron_dispatched_total",
				Help: "Total number of monitor ids handed to the worker pool",
			},
			[]string{"transport"},
		),

		AlertsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitron_alerts_total",
				Help: "Total number of sustained-down alert emails",
			},
			[]string{"result"},
		),

		ChecksRunning: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "monitron_checks_running",
				Help: "Number of currently running monitor checks",
			},
		),

		QueueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "monitron_dispatch_queue_depth",
				Help: "Number of pending jobs in the in-process dispatch queue",
			},
		),

		CheckDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitron_check_duration_seconds",
				Help:    "End-to-end duration of monitor checks in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),

		ProbeLatency: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitron_probe_latency_seconds",
				Help:    "HTTP probe response time in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method"},
		),

		ClaimBatch: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitron_claim_batch_size",
				Help:    "Number of monitors claimed per scheduler iteration",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),

		HTTPStatusCodes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitron_http_status_codes_total",
				Help: "Total HTTP probe responses by status code",
			},
			[]string{"status_code", "method"},
		),
	}

	return m
}

// RecordCheck records one completed check
func (m *Metrics) RecordCheck(outcome string, duration time.Duration) {
	m.ChecksTotal.WithLabelValues(outcome).Inc()
	m.CheckDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordProbeError records a transport or timeout failure
func (m *Metrics) RecordProbeError(kind string) {
	m.ProbeErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordHTTPResponse records probe latency and status code
func (m *Metrics) RecordHTTPResponse(method string, statusCode int, latency time.Duration) {
	m.ProbeLatency.WithLabelValues(method).Observe(latency.Seconds())
	m.HTTPStatusCodes.WithLabelValues(strconv.Itoa(statusCode), method).Inc()
}

// RecordClaims records one scheduler claim iteration
func (m *Metrics) RecordClaims(claimed int) {
	m.ClaimsTotal.Add(float64(claimed))
	m.ClaimBatch.Observe(float64(claimed))
}

// RecordDispatch records monitor ids handed off for execution
func (m *Metrics) RecordDispatch(transport string, count int) {
	m.DispatchedTotal.WithLabelValues(transport).Add(float64(count))
}

// RecordAlert records an alert engine send attempt
func (m *Metrics) RecordAlert(result string) {
	m.AlertsTotal.WithLabelValues(result).Inc()
}

// IncrementRunningChecks tracks in-flight checks
func (m *Metrics) IncrementRunningChecks() {
	m.ChecksRunning.Inc()
}

// DecrementRunningChecks tracks in-flight checks
func (m *Metrics) DecrementRunningChecks() {
	m.ChecksRunning.Dec()
}

// SetQueueDepth reports the in-process dispatch queue length
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}
