package slot

import (
	"context"
	"sync"
)

// Memory is an in-process slot with a byte quota shared by all keys,
// mirroring browser local storage.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	used  int64
	quota int64
}

// NewMemory returns an empty slot. A quota of zero or less means unlimited.
func NewMemory(quota int64) *Memory {
	return &Memory{data: make(map[string]string), quota: quota}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + int64(len(key)+len(value))
	if old, ok := m.data[key]; ok {
		next -= int64(len(key) + len(old))
	}
	if m.quota > 0 && next > m.quota {
		return quotaError(m.Name(), key, int64(len(key)+len(value)), m.quota)
	}
	m.data[key] = value
	m.used = next
	return nil
}

// Used returns the bytes currently held.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() error { return nil }
