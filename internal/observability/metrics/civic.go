package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CivicMetrics tracks the report and task workflow. It implements Recorder.
type CivicMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errors            *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCivicMetrics creates and registers the civic workflow metrics.
func NewCivicMetrics(registry *prometheus.Registry) (*CivicMetrics, error) {
	m := &CivicMetrics{registry: registry}
	m.operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_operations_total",
		Help: "Report, task and leaderboard operations by outcome",
	}, []string{"operation", "status"})
	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civic_operation_duration_seconds",
		Help:    "Database time spent per civic operation",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	}, []string{"operation"})
	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_errors_total",
		Help: "Civic operation errors by category",
	}, []string{"operation", "error_type"})

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register civic metrics: %w", err)
	}
	return m, nil
}

func (m *CivicMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *CivicMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *CivicMetrics) RecordError(operation, errorType string) {
	m.errors.WithLabelValues(operation, errorType).Inc()
}

// Describe implements prometheus.Collector.
func (m *CivicMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *CivicMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errors.Collect(ch)
}

var _ Recorder = (*CivicMetrics)(nil)
