package predictions

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/slot"
)

// Defaults for the persistence adapter.
const (
	DefaultKey                  = "pothole-app-predictions"
	DefaultMaxInlineImageLength = 1000
	DefaultPersistTimeout       = 5 * time.Second
)

// State is the adapter lifecycle state.
type State int32

const (
	StateUninitialized State = iota // before the first Load
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "uninitialized"
}

// Adapter mirrors a projection of the store into one slot key and reads it
// back at startup. Failures are logged and absorbed; nothing is retried.
type Adapter struct {
	slot    slot.Slot
	key     string
	limit   int
	timeout time.Duration
	state   atomic.Int32
	log     logger.Logger
	metrics *metrics.PredictionMetrics
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithKey overrides the slot key.
func WithKey(key string) AdapterOption {
	return func(a *Adapter) {
		if key != "" {
			a.key = key
		}
	}
}

// WithInlineLimit sets the longest image data URL kept in the persisted copy.
func WithInlineLimit(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithPersistTimeout bounds a single slot write.
func WithPersistTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(log logger.Logger) AdapterOption {
	return func(a *Adapter) { a.log = log }
}

// WithAdapterMetrics enables Prometheus accounting of loads and writes.
func WithAdapterMetrics(m *metrics.PredictionMetrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter returns an uninitialized adapter owning one key of s.
func NewAdapter(s slot.Slot, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		slot:    s,
		key:     DefaultKey,
		limit:   DefaultMaxInlineImageLength,
		timeout: DefaultPersistTimeout,
		log:     logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the slot key this adapter owns.
func (a *Adapter) Key() string { return a.key }

// State reports whether Load has run.
func (a *Adapter) State() State { return State(a.state.Load()) }

// Load reads the persisted history. A missing key, a read error or text that
// is not a JSON array of records all yield an empty, non-nil slice.
func (a *Adapter) Load(ctx context.Context) []Record {
	defer a.state.Store(int32(StateActive))

	raw, found, err := a.slot.Get(ctx, a.key)
	switch {
	case err != nil:
		a.log.Warn("failed to read persisted predictions, starting empty",
			logger.String("key", a.key),
			logger.Error(err))
		a.recordLoad("read_error", 0)
		return []Record{}
	case !found:
		a.log.Debug("no persisted predictions", logger.String("key", a.key))
		a.recordLoad("missing", 0)
		return []Record{}
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		a.log.Warn("persisted predictions are corrupt, starting empty",
			logger.String("key", a.key),
			logger.Int("length", len(raw)),
			logger.Error(errors.New(err).
				Component("predictions").
				Category(errors.CategoryValidation).
				Context("key", a.key).
				Build()))
		a.recordLoad("parse_error", 0)
		return []Record{}
	}
	if records == nil {
		// the literal "null"
		records = []Record{}
	}

	a.log.Info("persisted predictions loaded",
		logger.String("key", a.key),
		logger.Int("count", len(records)))
	a.recordLoad("loaded", len(records))
	return records
}

// Persist projects snapshot and writes it to the slot. It never fails: a
// rejected write is logged and counted, and the store is not touched.
func (a *Adapter) Persist(snapshot []Record) {
	start := time.Now()

	projected := make([]Record, len(snapshot))
	dropped := 0
	for i := range snapshot {
		projected[i] = Project(snapshot[i], a.limit)
		if snapshot[i].ImageDataURL != nil && projected[i].ImageDataURL == nil {
			dropped++
		}
	}

	data, err := json.Marshal(projected)
	if err != nil {
		a.persistFailed(err, len(snapshot))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.slot.Set(ctx, a.key, string(data)); err != nil {
		a.persistFailed(err, len(snapshot))
		return
	}

	if a.metrics != nil {
		a.metrics.AddInlineDropped(dropped)
		a.metrics.RecordPersist(len(data), time.Since(start).Seconds(), "")
	}
	a.log.Debug("predictions persisted",
		logger.String("key", a.key),
		logger.Int("count", len(projected)),
		logger.Int("bytes", len(data)),
		logger.Int("images_dropped", dropped))
}

func (a *Adapter) persistFailed(err error, count int) {
	category := string(errors.CategoryGeneric)
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		category = string(enhanced.Category)
	}
	if a.metrics != nil {
		a.metrics.RecordPersist(0, 0, category)
	}
	a.log.Warn("failed to persist predictions, history kept in memory only",
		logger.String("key", a.key),
		logger.Int("count", count),
		logger.String("category", category),
		logger.Error(err))
}

func (a *Adapter) recordLoad(outcome string, n int) {
	if a.metrics != nil {
		a.metrics.RecordLoad(outcome, n)
	}
}

// Project returns the storage-safe copy of r: overlay and mask are always
// dropped, and the original image is dropped when longer than limit. r is
// not modified.
func Project(r Record, limit int) Record {
	r.OverlayDataURL = nil
	r.MaskDataURL = nil
	if r.ImageDataURL != nil && len(*r.ImageDataURL) > limit {
		r.ImageDataURL = nil
	}
	return r
}

// Open starts a session: it loads the persisted history, seeds a new store
// with it and subscribes the adapter so every mutation is persisted.
func Open(ctx context.Context, a *Adapter, opts ...StoreOption) *Store {
	store := NewStore(a.Load(ctx), opts...)
	store.Subscribe(a.Persist)
	return store
}
