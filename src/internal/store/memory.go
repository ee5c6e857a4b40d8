// FILE: chatwisp/src/internal/store/memory.go
package store

import (
	"context"
	"sync"
	"sync/atomic"

	"chatwisp/src/internal/core"
)

// Process-lifetime store
type MemoryStore struct {
	mu         sync.RWMutex
	entries    []core.LogEntry
	errors     []core.ErrorRecord
	maxEntries int
	maxErrors  int

	totalAppended atomic.Uint64
}

func NewMemoryStore(maxEntries, maxErrors int) *MemoryStore {
	return &MemoryStore{
		maxEntries: maxEntries,
		maxErrors:  maxErrors,
	}
}

func (m *MemoryStore) Append(_ context.Context, entry core.LogEntry) error {
	m.mu.Lock()
	m.entries = prependCapped(m.entries, entry, m.maxEntries)
	m.mu.Unlock()

	m.totalAppended.Add(1)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]core.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return head(m.entries, limit), nil
}

func (m *MemoryStore) RecordError(_ context.Context, rec core.ErrorRecord) error {
	m.mu.Lock()
	m.errors = prependCapped(m.errors, rec, m.maxErrors)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Errors(_ context.Context, limit int) ([]core.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return head(m.errors, limit), nil
}

func (m *MemoryStore) Name() string {
	return "memory"
}

func (m *MemoryStore) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"backend":        "memory",
		"entries":        len(m.entries),
		"errors":         len(m.errors),
		"max_entries":    m.maxEntries,
		"total_appended": m.totalAppended.Load(),
	}
}

func (m *MemoryStore) Close() error {
	return nil
}
