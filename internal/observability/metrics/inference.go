package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// InferenceMetrics tracks calls to the external segmentation service. It
// implements Recorder.
type InferenceMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Errors            *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	Retries           prometheus.Counter
	Responses         *prometheus.CounterVec
	ImageBytes        prometheus.Histogram
	registry          *prometheus.Registry
}

// NewInferenceMetrics creates and registers the inference metrics.
func NewInferenceMetrics(registry *prometheus.Registry) (*InferenceMetrics, error) {
	m := &InferenceMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register inference metrics: %w", err)
	}
	return m, nil
}

func (m *InferenceMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_operations_total",
		Help: "Total number of inference service calls",
	}, []string{"operation", "status"})
	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inference_operation_duration_seconds",
		Help:    "Latency of inference service calls",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms*10, BucketFactor2, BucketCount12), // 10ms to ~20s
	}, []string{"operation"})
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_errors_total",
		Help: "Inference errors by type",
	}, []string{"operation", "error_type"})
	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_cache_hits_total",
		Help: "Predictions served from the response cache",
	})
	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_cache_misses_total",
		Help: "Predictions that required a call to the service",
	})
	m.Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_retries_total",
		Help: "Retried inference requests",
	})
	m.Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_http_responses_total",
		Help: "HTTP responses from the inference service by status code",
	}, []string{"code"})
	m.ImageBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_image_bytes",
		Help:    "Size of images sent for inference",
		Buckets: prometheus.ExponentialBuckets(BucketStart1KB*16, BucketFactor2, BucketCount10), // 16KB to 8MB
	})
}

func (m *InferenceMetrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *InferenceMetrics) RecordDuration(operation string, seconds float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *InferenceMetrics) RecordError(operation, errorType string) {
	m.Errors.WithLabelValues(operation, errorType).Inc()
}

// RecordCache counts a cache lookup.
func (m *InferenceMetrics) RecordCache(hit bool) {
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordResponse counts one HTTP exchange. code is the status code or
// "error" when the transport failed.
func (m *InferenceMetrics) RecordResponse(code string) {
	m.Responses.WithLabelValues(code).Inc()
}

// Describe implements prometheus.Collector.
func (m *InferenceMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.Errors.Describe(ch)
	m.CacheHits.Describe(ch)
	m.CacheMisses.Describe(ch)
	m.Retries.Describe(ch)
	m.Responses.Describe(ch)
	m.ImageBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *InferenceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.Errors.Collect(ch)
	m.CacheHits.Collect(ch)
	m.CacheMisses.Collect(ch)
	m.Retries.Collect(ch)
	m.Responses.Collect(ch)
	m.ImageBytes.Collect(ch)
}

var _ Recorder = (*InferenceMetrics)(nil)
