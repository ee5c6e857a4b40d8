// FILE: chatwisp/src/internal/store/store.go
package store

import (
	"context"
	"fmt"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Store is the durable, capped, newest-first collection of log entries.
// Append applies retention in the same write as the insert.
type Store interface {
	Append(ctx context.Context, entry core.LogEntry) error
	List(ctx context.Context, limit int) ([]core.LogEntry, error)
	Name() string
	GetStats() map[string]any
	Close() error
}

// ErrorJournal is implemented by backends that keep rejected submissions
type ErrorJournal interface {
	RecordError(ctx context.Context, rec core.ErrorRecord) error
	Errors(ctx context.Context, limit int) ([]core.ErrorRecord, error)
}

// Creates the backend named by cfg.Backend
func New(ctx context.Context, cfg config.StoreConfig, logger *log.Logger) (Store, error) {
	maxEntries := int(cfg.MaxEntries)
	maxErrors := int(cfg.MaxErrors)

	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "memory":
		s = NewMemoryStore(maxEntries, maxErrors)
	case "file":
		s, err = NewFileStore(cfg.File, maxEntries, maxErrors, logger)
	case "upstash":
		s, err = NewUpstashStore(cfg.Upstash, maxEntries, maxErrors, logger)
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.Postgres, maxEntries, maxErrors, logger)
	case "pebble":
		s, err = NewPebbleStore(cfg.Pebble, maxEntries, maxErrors, logger)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	logger.Info("msg", "Store opened",
		"component", "store",
		"backend", s.Name(),
		"max_entries", maxEntries)
	return s, nil
}

// Returns the newest entry, or nil when the store is empty
func Last(ctx context.Context, s Store) (*core.LogEntry, error) {
	entries, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Inserts item at the head of a newest-first list and trims it to capacity
func prependCapped[T any](list []T, item T, capacity int) []T {
	n := len(list) + 1
	if n > capacity {
		n = capacity
	}
	out := make([]T, n)
	out[0] = item
	copy(out[1:], list)
	return out
}

// Returns at most limit leading items as a fresh slice
func head[T any](list []T, limit int) []T {
	if limit < 0 {
		limit = 0
	}
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]T, limit)
	copy(out, list[:limit])
	return out
}
