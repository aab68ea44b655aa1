package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of one prediction event handed to the MQTT publisher.
const (
	EventDelivered = "delivered"
	EventDropped   = "dropped" // publish queue full
	EventFailed    = "failed"
)

// MQTTMetrics covers the broker connection and the prediction event feed.
type MQTTMetrics struct {
	Connected      prometheus.Gauge
	LastConnect    prometheus.Gauge
	Reconnects     prometheus.Counter
	Events         *prometheus.CounterVec // by outcome
	Pending        prometheus.Gauge
	PayloadBytes   prometheus.Histogram
	PublishSeconds prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "1 while the broker connection is up",
		}),
		LastConnect: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_last_connect_timestamp_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_reconnects_total",
			Help: "Broker reconnection attempts",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_prediction_events_total",
			Help: "Prediction events by publish outcome",
		}, []string{"outcome"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_prediction_events_pending",
			Help: "Prediction events queued for publishing",
		}),
		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_payload_bytes",
			Help:    "Size of published payloads",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		}),
		PublishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_duration_seconds",
			Help:    "Time from publish to broker acknowledgement",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		}),
	}
	for _, outcome := range []string{EventDelivered, EventDropped, EventFailed} {
		m.Events.WithLabelValues(outcome)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus sets the connection gauge and, on connect, the last
// connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if !connected {
		m.Connected.Set(0)
		return
	}
	m.Connected.Set(1)
	m.LastConnect.SetToCurrentTime()
}

// RecordDelivered counts an acknowledged publish of size bytes.
func (m *MQTTMetrics) RecordDelivered(size int) {
	m.Events.WithLabelValues(EventDelivered).Inc()
	m.PayloadBytes.Observe(float64(size))
}

func (m *MQTTMetrics) IncrementMessagesDropped() { m.Events.WithLabelValues(EventDropped).Inc() }

func (m *MQTTMetrics) IncrementErrors() { m.Events.WithLabelValues(EventFailed).Inc() }

func (m *MQTTMetrics) IncrementReconnectAttempts() { m.Reconnects.Inc() }

func (m *MQTTMetrics) SetQueueDepth(n int) { m.Pending.Set(float64(n)) }

// TimePublish returns a func that records the time elapsed since the call.
func (m *MQTTMetrics) TimePublish() (done func()) {
	start := time.Now()
	return func() { m.PublishSeconds.Observe(time.Since(start).Seconds()) }
}

// Describe implements prometheus.Collector.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *MQTTMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Connected, m.LastConnect, m.Reconnects, m.Events,
		m.Pending, m.PayloadBytes, m.PublishSeconds,
	}
}
