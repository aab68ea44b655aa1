package predictions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
)

// IDPrefix starts every generated record id.
const IDPrefix = "pred-"

const minCapacity = 64

// Observer receives the snapshot produced by a mutation.
type Observer func(snapshot []Record)

type subscription struct {
	id uint64
	fn Observer
}

// Store is the ordered, append-only prediction history of one session.
// Records are kept newest first.
//
// All methods are safe for concurrent use. Mutations are serialized and
// observers are called synchronously, in subscription order, once per
// mutation and in mutation order. An observer must not call AddPrediction.
type Store struct {
	notifyMu sync.Mutex // held across mutate+notify to keep notifications ordered

	mu sync.RWMutex
	// buf is filled from the back: the live records are buf[start:], newest
	// at buf[start]. Prepending writes buf[start-1], so slices handed out
	// earlier never observe later writes.
	buf     []Record
	start   int
	index   map[string]int // id -> insertion sequence
	version uint64

	observers []subscription
	nextSubID atomic.Uint64

	now     func() time.Time
	log     logger.Logger
	metrics *metrics.PredictionMetrics
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces the clock used for missing timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(log logger.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// WithStoreMetrics enables Prometheus accounting of added records.
func WithStoreMetrics(m *metrics.PredictionMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore builds a store seeded with a previously persisted history,
// newest first. Seed records are taken as they are, without validation; the
// slice is copied.
func NewStore(seed []Record, opts ...StoreOption) *Store {
	s := &Store{
		now: time.Now,
		log: logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	capacity := max(minCapacity, 2*len(seed))
	s.buf = make([]Record, capacity)
	s.start = capacity - len(seed)
	copy(s.buf[s.start:], seed)

	s.index = make(map[string]int, len(seed))
	// oldest first, so a duplicated id resolves to its newest record
	for i := len(seed) - 1; i >= 0; i-- {
		s.index[seed[i].ID] = len(seed) - 1 - i
	}
	return s
}

// AddPrediction assigns an id, and a timestamp when the draft has none,
// prepends the record and notifies observers. It returns the stored record.
func (s *Store) AddPrediction(d Draft) Record {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	rec := d.toRecord(newID(), s.now())

	s.mu.Lock()
	if s.start == 0 {
		s.grow()
	}
	s.start--
	s.buf[s.start] = rec
	s.index[rec.ID] = len(s.buf) - s.start - 1
	s.version++
	snapshot := s.snapshotLocked()
	observers := s.observers
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordAdded(rec.IsPothole, rec.Confidence, len(snapshot))
	}
	s.log.Debug("prediction added",
		logger.String("id", rec.ID),
		logger.Bool("is_pothole", rec.IsPothole),
		logger.Float64("confidence", rec.Confidence),
		logger.Int("size", len(snapshot)))

	for _, sub := range observers {
		sub.fn(snapshot)
	}
	return rec
}

// grow moves the live records to the back of a buffer twice the size.
// Callers hold s.mu.
func (s *Store) grow() {
	n := len(s.buf) - s.start
	next := make([]Record, 2*max(len(s.buf), minCapacity/2))
	copy(next[len(next)-n:], s.buf[s.start:])
	s.buf = next
	s.start = len(next) - n
}

func (s *Store) snapshotLocked() []Record {
	return s.buf[s.start:len(s.buf):len(s.buf)]
}

// Snapshot returns the current history, newest first. The slice is shared
// and must not be modified; a mutation never changes a slice already
// returned.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf) - s.start
}

// Version increases by one on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Lookup finds a record by id.
func (s *Store) Lookup(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return s.buf[len(s.buf)-1-seq], true
}

// Subscribe registers fn to receive every future snapshot. The returned
// function removes the subscription; it is safe to call more than once.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	id := s.nextSubID.Add(1)

	s.mu.Lock()
	// copy on write: AddPrediction iterates a previously captured slice
	next := make([]subscription, len(s.observers), len(s.observers)+1)
	copy(next, s.observers)
	s.observers = append(next, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			next := make([]subscription, 0, len(s.observers))
			for _, sub := range s.observers {
				if sub.id != id {
					next = append(next, sub)
				}
			}
			s.observers = next
		})
	}
}

// newID returns pred-<uuidv7>. Version 7 ids are time ordered and carry a
// per-process monotonic sequence, so ids generated by one store never
// collide.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return IDPrefix + id.String()
}
