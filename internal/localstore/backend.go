package localstore

import (
	"context"
	"errors"
	"sync"

	"budgetsync/internal/storage"
)

// ErrQuotaExceeded is returned by a backend that has run out of room.
var ErrQuotaExceeded = errors.New("local storage quota exceeded")

// Backend is durable string storage keyed by name. Put must replace the
// value atomically: after a failed Put the previous value is still there.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

var (
	_ Backend = (*storage.SQLiteRepository)(nil)
	_ Backend = (*MemoryBackend)(nil)
)

// MemoryBackend keeps entries in a map. A positive quota caps the total
// number of bytes across keys and values.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]string
	quota   int
	used    int
}

func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]string), quota: quota}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryBackend) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used + len(value)
	if old, ok := m.entries[key]; ok {
		used -= len(old)
	} else {
		used += len(key)
	}
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}
	m.entries[key] = value
	m.used = used
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]string)
	m.used = 0
	return nil
}

// Used reports the bytes currently held.
func (m *MemoryBackend) Used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}
