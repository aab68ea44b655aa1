package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/predictions"
	"github.com/potholewatch/potholewatch/internal/report"
)

// DefaultQueueSize bounds the events waiting to be published.
const DefaultQueueSize = 64

// Publisher forwards each new prediction to an MQTT topic. Store observers
// run on the writer's goroutine, so events are queued without blocking and
// dropped when the queue is full.
type Publisher struct {
	client  Client
	topic   string
	queue   chan []byte
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewPublisher creates a publisher for topic. queueSize <= 0 selects
// DefaultQueueSize; m may be nil.
func NewPublisher(client Client, topic string, queueSize int, m *metrics.MQTTMetrics, log logger.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &Publisher{
		client:  client,
		topic:   topic,
		queue:   make(chan []byte, queueSize),
		metrics: m,
		log:     log,
	}
}

// Attach subscribes the publisher to store. Attaching again replaces the
// previous subscription.
func (p *Publisher) Attach(store *predictions.Store) {
	unsubscribe := store.Subscribe(p.observe)
	p.mu.Lock()
	prev := p.unsubscribe
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (p *Publisher) detach() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// observe enqueues the newest record of snapshot.
func (p *Publisher) observe(snapshot []predictions.Record) {
	if len(snapshot) == 0 {
		return
	}
	head := snapshot[0]
	payload, err := json.Marshal(report.NewExport(&head))
	if err != nil {
		p.log.Error("failed to encode prediction event", logger.String("id", head.ID), logger.Error(err))
		return
	}

	select {
	case p.queue <- payload:
		if p.metrics != nil {
			p.metrics.SetQueueDepth(len(p.queue))
		}
	default:
		if p.metrics != nil {
			p.metrics.IncrementMessagesDropped()
		}
		p.log.Warn("MQTT queue full, dropping prediction event",
			logger.String("id", head.ID),
			logger.Int("queue_size", cap(p.queue)))
	}
}

// Run connects and publishes queued events until ctx is done. A failed
// connect is logged and events are dropped until the client recovers. Run
// detaches from the store and disconnects before returning.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.client.Disconnect()
	defer p.detach()

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.log.Warn("MQTT connect failed, events will be dropped until reconnected", logger.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-p.queue:
			if p.metrics != nil {
				p.metrics.SetQueueDepth(len(p.queue))
			}
			p.publish(ctx, payload)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, payload []byte) {
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.client.Publish(pubCtx, p.topic, payload); err != nil {
		if p.metrics != nil {
			p.metrics.IncrementErrors()
		}
		p.log.Warn("failed to publish prediction event",
			logger.String("topic", p.topic),
			logger.Error(err))
	}
}
