package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Entitlement metrics
	DecisionsTotal     *prometheus.CounterVec
	ReservationsTotal  *prometheus.CounterVec
	UsageStorageErrors *prometheus.CounterVec
	RendersUsedTotal   *prometheus.CounterVec
	RenderMinutesUsed  *prometheus.CounterVec

	// Render queue metrics
	RenderSubmissionsTotal *prometheus.CounterVec
}

// New creates and registers all metrics with the default registry
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers all metrics with reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Entitlement metrics
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_decisions_total",
				Help: "Total number of entitlement decisions",
			},
			[]string{"tier", "outcome", "reason"},
		),
		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usage_reservations_total",
				Help: "Total number of usage reservations by result",
			},
			[]string{"tier", "result"},
		),
		UsageStorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usage_storage_errors_total",
				Help: "Total number of usage ledger failures (requests denied fail-closed)",
			},
			[]string{"operation"},
		),
		RendersUsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renders_used_total",
				Help: "Total renders charged to accounts",
			},
			[]string{"tier"},
		),
		RenderMinutesUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_minutes_used_total",
				Help: "Total render minutes charged to accounts",
			},
			[]string{"tier"},
		),

		// Render queue metrics
		RenderSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_submissions_total",
				Help: "Total number of render jobs enqueued",
			},
			[]string{"queue", "status"},
		),
	}

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordDecision records an entitlement decision. reason is empty when allowed.
func (m *Metrics) RecordDecision(tier string, allowed bool, reason string) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.DecisionsTotal.WithLabelValues(tier, outcome, reason).Inc()
}

// RecordReservation records a usage reservation result
func (m *Metrics) RecordReservation(tier string, applied bool, renders int64, minutes float64) {
	if !applied {
		m.ReservationsTotal.WithLabelValues(tier, "rejected").Inc()
		return
	}
	m.ReservationsTotal.WithLabelValues(tier, "applied").Inc()
	m.RendersUsedTotal.WithLabelValues(tier).Add(float64(renders))
	m.RenderMinutesUsed.WithLabelValues(tier).Add(minutes)
}

// RecordStorageError records a ledger failure
func (m *Metrics) RecordStorageError(operation string) {
	m.UsageStorageErrors.WithLabelValues(operation).Inc()
}

// RecordRenderSubmission records a render enqueue attempt
func (m *Metrics) RecordRenderSubmission(queue string, success bool) {
	status := "enqueued"
	if !success {
		status = "failed"
	}
	m.RenderSubmissionsTotal.WithLabelValues(queue, status).Inc()
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
