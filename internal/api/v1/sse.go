package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

const (
	sseClientBuffer    = 32
	sseHeartbeat       = 30 * time.Second
	sseWriteTimeout    = 10 * time.Second
	ssePredictionEvent = "prediction"
	sseConnectedEvent  = "connected"
	sseHeartbeatEvent  = "heartbeat"
)

// SSEClient is one connected stream.
type SSEClient struct {
	ID      string
	Channel chan predictions.Record
	Done    chan struct{}
}

// SSEManager fans new predictions out to stream clients. It is a store
// observer, so sends never block: a client whose buffer is full misses the
// event.
type SSEManager struct {
	clients     map[string]*SSEClient
	mutex       sync.RWMutex
	inlineLimit int
	heartbeat   time.Duration
	metrics     *metrics.HTTPMetrics
	logger      logger.Logger
	unsubscribe func()
	closed      bool
}

// NewSSEManager subscribes to store. Records are streamed in their persisted
// projection, so large images are left out.
func NewSSEManager(store *predictions.Store, inlineLimit int, m *metrics.HTTPMetrics, log logger.Logger) *SSEManager {
	if inlineLimit <= 0 {
		inlineLimit = predictions.DefaultMaxInlineImageLength
	}
	mgr := &SSEManager{
		clients:     make(map[string]*SSEClient),
		inlineLimit: inlineLimit,
		heartbeat:   sseHeartbeat,
		metrics:     m,
		logger:      log,
	}
	mgr.unsubscribe = store.Subscribe(mgr.broadcast)
	return mgr
}

// AddClient registers a new stream client. It returns nil after Close.
func (m *SSEManager) AddClient() *SSEClient {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil
	}
	client := &SSEClient{
		ID:      uuid.NewString(),
		Channel: make(chan predictions.Record, sseClientBuffer),
		Done:    make(chan struct{}),
	}
	m.clients[client.ID] = client
	if m.metrics != nil {
		m.metrics.SSEConnected(true)
	}
	m.logger.Debug("SSE client connected",
		logger.String("client_id", client.ID),
		logger.Int("total", len(m.clients)))
	return client
}

// RemoveClient unregisters a client. Removing twice is a no-op.
func (m *SSEManager) RemoveClient(clientID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.removeLocked(clientID)
}

func (m *SSEManager) removeLocked(clientID string) {
	client, ok := m.clients[clientID]
	if !ok {
		return
	}
	close(client.Done)
	delete(m.clients, clientID)
	if m.metrics != nil {
		m.metrics.SSEConnected(false)
	}
	m.logger.Debug("SSE client disconnected",
		logger.String("client_id", clientID),
		logger.Int("total", len(m.clients)))
}

// ClientCount returns the number of connected clients.
func (m *SSEManager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Close unsubscribes from the store and ends every stream.
func (m *SSEManager) Close() {
	m.unsubscribe()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	for id := range m.clients {
		m.removeLocked(id)
	}
}

func (m *SSEManager) broadcast(snapshot []predictions.Record) {
	if len(snapshot) == 0 {
		return
	}
	head := predictions.Project(snapshot[0], m.inlineLimit)

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for id, client := range m.clients {
		select {
		case client.Channel <- head:
			if m.metrics != nil {
				m.metrics.RecordSSEMessage(true)
			}
		default:
			if m.metrics != nil {
				m.metrics.RecordSSEMessage(false)
			}
			m.logger.Warn("SSE client buffer full, event dropped",
				logger.String("client_id", id),
				logger.String("prediction_id", head.ID))
		}
	}
}

// StreamPredictions serves text/event-stream with one "prediction" event per
// new record and periodic heartbeats.
func (c *Controller) StreamPredictions(ctx echo.Context) error {
	client := c.sseManager.AddClient()
	if client == nil {
		return c.HandleError(ctx, nil, "Server is shutting down", http.StatusServiceUnavailable)
	}
	defer c.sseManager.RemoveClient(client.ID)

	header := ctx.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	ctx.Response().WriteHeader(http.StatusOK)

	if err := sendSSEMessage(ctx, sseConnectedEvent, map[string]string{
		"clientId": client.ID,
		"message":  "Connected to prediction stream",
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(c.sseManager.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case rec := <-client.Channel:
			if err := sendSSEMessage(ctx, ssePredictionEvent, rec); err != nil {
				c.logger.Debug("SSE write failed", logger.String("client_id", client.ID), logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := sendSSEMessage(ctx, sseHeartbeatEvent, map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-ctx.Request().Context().Done():
			return nil
		case <-client.Done:
			return nil
		}
	}
}

// sendSSEMessage writes one event and flushes it.
func sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)) // not every writer supports deadlines

	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	ctx.Response().Flush()
	return nil
}
