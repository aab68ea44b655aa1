package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the API server.
type HTTPMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	authFailures        *prometheus.CounterVec
	rateLimited         prometheus.Counter

	sseActiveConnections prometheus.Gauge
	sseTotalConnections  prometheus.Counter
	sseMessagesSent      prometheus.Counter
	sseDropped           prometheus.Counter
}

// NewHTTPMetrics creates and registers the API server metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route template, e.g. /api/v1/predictions/:id
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_auth_failures_total",
			Help: "Rejected requests by reason",
		},
		[]string{"reason"}, // reason: missing_token, unknown_token, forbidden_role
	)
	m.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the upload rate limiter",
	})
	m.sseActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_active_connections",
		Help: "Number of connected prediction stream clients",
	})
	m.sseTotalConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_connections_total",
		Help: "Total number of prediction stream connections",
	})
	m.sseMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_messages_sent_total",
		Help: "Prediction events written to stream clients",
	})
	m.sseDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_messages_dropped_total",
		Help: "Prediction events dropped for slow stream clients",
	})
}

// RecordRequest records one completed request.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, seconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *HTTPMetrics) RecordAuthFailure(reason string) { m.authFailures.WithLabelValues(reason).Inc() }

func (m *HTTPMetrics) RecordRateLimited() { m.rateLimited.Inc() }

// SSEConnected adjusts the stream gauges on connect (true) or disconnect.
func (m *HTTPMetrics) SSEConnected(connected bool) {
	if connected {
		m.sseActiveConnections.Inc()
		m.sseTotalConnections.Inc()
		return
	}
	m.sseActiveConnections.Dec()
}

func (m *HTTPMetrics) RecordSSEMessage(delivered bool) {
	if delivered {
		m.sseMessagesSent.Inc()
	} else {
		m.sseDropped.Inc()
	}
}

// Describe implements prometheus.Collector.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
	m.authFailures.Describe(ch)
	m.rateLimited.Describe(ch)
	m.sseActiveConnections.Describe(ch)
	m.sseTotalConnections.Describe(ch)
	m.sseMessagesSent.Describe(ch)
	m.sseDropped.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
	m.authFailures.Collect(ch)
	m.rateLimited.Collect(ch)
	m.sseActiveConnections.Collect(ch)
	m.sseTotalConnections.Collect(ch)
	m.sseMessagesSent.Collect(ch)
	m.sseDropped.Collect(ch)
}
