package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
	MetricRegistrationsTotal    = "registrations_total"
	MetricAttendanceToggles     = "attendance_toggles_total"
	MetricQuotaRejections       = "quota_rejections_total"
	MetricScheduleLoads         = "schedule_loads_total"
	MetricEventStreamClients    = "event_stream_clients"
)

// Metrics contains Prometheus metrics for the tracker daemon.
// All operations are thread-safe.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
	registrationsTotal   *prometheus.CounterVec
	attendanceToggles    *prometheus.CounterVec
	quotaRejections      *prometheus.CounterVec
	scheduleLoads        prometheus.Counter
	eventStreamClients   prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitRequests,
				Help: "Total number of rate limit checks by endpoint",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitBlocked,
				Help: "Total number of rate limit violations (blocked requests) by endpoint",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitRedisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRateLimitRedisErrors,
				Help: "Total number of Redis errors during rate limiting (fail-open events)",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestSizeBytes,
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100 B to ~100 MB
			},
			[]string{"method", "path", "status"},
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPResponseSizeBytes,
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100 B to ~100 MB
			},
			[]string{"method", "path", "status"},
		),
		registrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRegistrationsTotal,
				Help: "Total number of successful registrations by outcome (new or existing)",
			},
			[]string{"outcome"},
		),
		attendanceToggles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAttendanceToggles,
				Help: "Total number of attendance marker toggles by kind",
			},
			[]string{"kind"},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricQuotaRejections,
				Help: "Total number of registrations rejected by quota or allowlist",
			},
			[]string{"reason"},
		),
		scheduleLoads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricScheduleLoads,
				Help: "Total number of schedule documents loaded",
			},
		),
		eventStreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricEventStreamClients,
				Help: "Current number of connected event stream clients",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests increments the rate limit requests counter.
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked increments the rate limit blocked counter.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors increments the Redis error counter.
// This tracks fail-open events when Redis is unavailable.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// IncRegistrations increments the registration counter.
// outcome: "new" for a first-time claim, "existing" for a reclaim.
func (m *Metrics) IncRegistrations(outcome string) {
	m.registrationsTotal.WithLabelValues(outcome).Inc()
}

// IncAttendanceToggles increments the attendance toggle counter by kind.
func (m *Metrics) IncAttendanceToggles(kind string) {
	m.attendanceToggles.WithLabelValues(kind).Inc()
}

// IncQuotaRejections increments the quota rejection counter.
// reason: "quota" or "allowlist".
func (m *Metrics) IncQuotaRejections(reason string) {
	m.quotaRejections.WithLabelValues(reason).Inc()
}

// IncScheduleLoads increments the schedule load counter.
func (m *Metrics) IncScheduleLoads() {
	m.scheduleLoads.Inc()
}

// SetEventStreamClients sets the connected event stream client gauge.
func (m *Metrics) SetEventStreamClients(n int) {
	m.eventStreamClients.Set(float64(n))
}

// ObserveHTTPRequest records HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": status,
	}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
		m.registrationsTotal,
		m.attendanceToggles,
		m.quotaRejections,
		m.scheduleLoads,
		m.eventStreamClients,
	}
}
