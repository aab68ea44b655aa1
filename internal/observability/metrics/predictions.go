package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PredictionMetrics tracks the prediction store and its persistence adapter.
type PredictionMetrics struct {
	RecordsAdded    prometheus.Counter
	StoreSize       prometheus.Gauge
	PotholesTotal   prometheus.Counter
	Confidence      prometheus.Histogram
	PersistTotal    *prometheus.CounterVec
	PersistErrors   *prometheus.CounterVec
	PersistBytes    prometheus.Histogram
	PersistDuration prometheus.Histogram
	LoadTotal       *prometheus.CounterVec
	InlineDropped   prometheus.Counter
	registry        *prometheus.Registry
}

// NewPredictionMetrics creates and registers the prediction metrics.
func NewPredictionMetrics(registry *prometheus.Registry) (*PredictionMetrics, error) {
	m := &PredictionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register prediction metrics: %w", err)
	}
	return m, nil
}

func (m *PredictionMetrics) initMetrics() {
	m.RecordsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictions_added_total",
		Help: "Total number of prediction records added this session",
	})
	m.StoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "predictions_store_size",
		Help: "Number of records currently held by the prediction store",
	})
	m.PotholesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictions_potholes_total",
		Help: "Total number of added records classified as pothole",
	})
	m.Confidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "predictions_confidence",
		Help:    "Distribution of prediction confidence",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})
	m.PersistTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_persist_total",
		Help: "Total number of snapshot writes to the persistent slot",
	}, []string{"status"})
	m.PersistErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_persist_errors_total",
		Help: "Snapshot write failures by category",
	}, []string{"error_type"}) // error_type: limit, database, network, file-io
	m.PersistBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "predictions_persist_bytes",
		Help:    "Size of the serialized projection written to the slot",
		Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor2, BucketCount14), // 1KB to 8MB
	})
	m.PersistDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "predictions_persist_duration_seconds",
		Help:    "Time taken to project, serialize and write a snapshot",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})
	m.LoadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_load_total",
		Help: "Startup loads of the persisted projection by outcome",
	}, []string{"outcome"}) // outcome: loaded, missing, read_error, parse_error
	m.InlineDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictions_inline_images_dropped_total",
		Help: "Images nulled from the persisted copy because they exceeded the inline limit",
	})
}

// RecordAdded updates counters for a newly inserted record.
func (m *PredictionMetrics) RecordAdded(isPothole bool, confidence float64, size int) {
	m.RecordsAdded.Inc()
	m.StoreSize.Set(float64(size))
	m.Confidence.Observe(confidence)
	if isPothole {
		m.PotholesTotal.Inc()
	}
}

// RecordPersist records the outcome of one snapshot write.
func (m *PredictionMetrics) RecordPersist(bytes int, seconds float64, errorType string) {
	if errorType != "" {
		m.PersistTotal.WithLabelValues(StatusError).Inc()
		m.PersistErrors.WithLabelValues(errorType).Inc()
		return
	}
	m.PersistTotal.WithLabelValues(StatusSuccess).Inc()
	m.PersistBytes.Observe(float64(bytes))
	m.PersistDuration.Observe(seconds)
}

// RecordLoad records the startup load outcome and the seeded store size.
func (m *PredictionMetrics) RecordLoad(outcome string, size int) {
	m.LoadTotal.WithLabelValues(outcome).Inc()
	m.StoreSize.Set(float64(size))
}

// AddInlineDropped counts images removed by the projection.
func (m *PredictionMetrics) AddInlineDropped(n int) {
	if n > 0 {
		m.InlineDropped.Add(float64(n))
	}
}

// Describe implements prometheus.Collector.
func (m *PredictionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RecordsAdded.Describe(ch)
	m.StoreSize.Describe(ch)
	m.PotholesTotal.Describe(ch)
	m.Confidence.Describe(ch)
	m.PersistTotal.Describe(ch)
	m.PersistErrors.Describe(ch)
	m.PersistBytes.Describe(ch)
	m.PersistDuration.Describe(ch)
	m.LoadTotal.Describe(ch)
	m.InlineDropped.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PredictionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RecordsAdded.Collect(ch)
	m.StoreSize.Collect(ch)
	m.PotholesTotal.Collect(ch)
	m.Confidence.Collect(ch)
	m.PersistTotal.Collect(ch)
	m.PersistErrors.Collect(ch)
	m.PersistBytes.Collect(ch)
	m.PersistDuration.Collect(ch)
	m.LoadTotal.Collect(ch)
	m.InlineDropped.Collect(ch)
}
