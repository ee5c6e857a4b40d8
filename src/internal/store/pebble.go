// FILE: chatwisp/src/internal/store/pebble.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/cockroachdb/pebble"
	"github.com/lixenwraith/log"
)

var (
	entryPrefix = []byte("log/")
	errorPrefix = []byte("err/")
)

// PebbleStore keeps entries in an embedded LSM keyed by prefix + id, so key
// order is insertion order. Each append writes the new key and deletes the
// oldest overflow keys in one synced batch.
type PebbleStore struct {
	db         *pebble.DB
	maxEntries int
	maxErrors  int
	errIDs     *core.IDGenerator
	logger     *log.Logger

	mu         sync.Mutex
	entryCount int
	errorCount int

	totalAppended atomic.Uint64
}

func NewPebbleStore(cfg config.PebbleStoreConfig, maxEntries, maxErrors int, logger *log.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(cfg.Directory, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Directory, err)
	}

	p := &PebbleStore{
		db:         db,
		maxEntries: maxEntries,
		maxErrors:  maxErrors,
		errIDs:     core.NewIDGenerator(),
		logger:     logger,
	}

	if p.entryCount, err = p.count(entryPrefix); err != nil {
		db.Close()
		return nil, err
	}
	if p.errorCount, err = p.count(errorPrefix); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("msg", "Pebble store loaded",
		"component", "pebble_store",
		"directory", cfg.Directory,
		"entries", p.entryCount,
		"errors", p.errorCount)
	return p, nil
}

func (p *PebbleStore) Append(_ context.Context, entry core.LogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.putCapped(entryPrefix, []byte(entry.ID), value, p.entryCount, p.maxEntries)
	if err != nil {
		return core.StoreError("append", err)
	}
	p.entryCount = n
	p.totalAppended.Add(1)
	return nil
}

func (p *PebbleStore) List(_ context.Context, limit int) ([]core.LogEntry, error) {
	values, err := p.scanNewest(entryPrefix, limit)
	if err != nil {
		return nil, core.StoreError("list", err)
	}

	entries := make([]core.LogEntry, 0, len(values))
	for _, v := range values {
		var entry core.LogEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			entry = core.LogEntry{Raw: v}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *PebbleStore) RecordError(_ context.Context, rec core.ErrorRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode error record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.putCapped(errorPrefix, []byte(p.errIDs.Next()), value, p.errorCount, p.maxErrors)
	if err != nil {
		return core.StoreError("record error", err)
	}
	p.errorCount = n
	return nil
}

func (p *PebbleStore) Errors(_ context.Context, limit int) ([]core.ErrorRecord, error) {
	values, err := p.scanNewest(errorPrefix, limit)
	if err != nil {
		return nil, core.StoreError("list errors", err)
	}

	records := make([]core.ErrorRecord, 0, len(values))
	for _, v := range values {
		var rec core.ErrorRecord
		if err := json.Unmarshal(v, &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (p *PebbleStore) Name() string {
	return "pebble"
}

func (p *PebbleStore) GetStats() map[string]any {
	p.mu.Lock()
	entries := p.entryCount
	p.mu.Unlock()

	return map[string]any{
		"backend":        "pebble",
		"entries":        entries,
		"max_entries":    p.maxEntries,
		"total_appended": p.totalAppended.Load(),
	}
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Writes key and evicts the oldest keys beyond capacity in one batch.
// Caller holds p.mu and passes the current count for the prefix.
func (p *PebbleStore) putCapped(prefix, id, value []byte, current, capacity int) (int, error) {
	batch := p.db.NewBatch()
	defer batch.Close()

	key := append(append([]byte{}, prefix...), id...)
	if err := batch.Set(key, value, nil); err != nil {
		return current, err
	}

	overflow := current + 1 - capacity
	if overflow > 0 {
		iter, err := p.db.NewIter(prefixBounds(prefix))
		if err != nil {
			return current, err
		}
		deleted := 0
		for valid := iter.First(); valid && deleted < overflow; valid = iter.Next() {
			old := append([]byte{}, iter.Key()...)
			if err := batch.Delete(old, nil); err != nil {
				iter.Close()
				return current, err
			}
			deleted++
		}
		if err := iter.Close(); err != nil {
			return current, err
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return current, err
		}
		return current - deleted + 1, nil
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return current, err
	}
	return current + 1, nil
}

func (p *PebbleStore) scanNewest(prefix []byte, limit int) ([][]byte, error) {
	iter, err := p.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out [][]byte
	for valid := iter.Last(); valid && len(out) < limit; valid = iter.Prev() {
		v := append([]byte{}, iter.Value()...)
		out = append(out, v)
	}
	return out, iter.Error()
}

func (p *PebbleStore) count(prefix []byte) (int, error) {
	iter, err := p.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Error()
}

func prefixBounds(prefix []byte) *pebble.IterOptions {
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: upper}
}
