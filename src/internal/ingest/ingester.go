// FILE: chatwisp/src/internal/ingest/ingester.go
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/filter"
	"chatwisp/src/internal/store"

	"github.com/lixenwraith/log"
)

// Maximum submission bytes copied into an error record
const maxJournaledBody = 4096

// Publisher receives every stored entry, in store order
type Publisher interface {
	Publish(entry core.LogEntry)
}

// Relayer hands stored entries to an external target without blocking
type Relayer interface {
	Relay(entry core.LogEntry)
}

// A raw submission and the request it arrived on
type Submission struct {
	Body        []byte
	ContentType string
	Meta        RequestMeta
}

// Outcome of an accepted submission
type Result struct {
	Entry core.LogEntry
	// Matched a drop rule; acknowledged but neither stored nor broadcast
	Dropped bool
}

// Ingester is the single write path: normalize, assign id, append, publish, relay.
type Ingester struct {
	store      store.Store
	journal    store.ErrorJournal
	publisher  Publisher
	relayer    Relayer
	chain      *filter.Chain
	normalizer *Normalizer
	ids        *core.IDGenerator
	logger     *log.Logger

	// Held across id assignment, append and publish so id order,
	// store order and publish order agree
	writeMu sync.Mutex

	// Statistics
	totalAccepted atomic.Uint64
	totalRejected atomic.Uint64
	totalDropped  atomic.Uint64
	totalFailed   atomic.Uint64
	lastAccepted  atomic.Value // time.Time
}

// Creates an ingester writing to st and publishing to pub. rel may be nil.
func NewIngester(cfg config.IngestConfig, st store.Store, pub Publisher, rel Relayer, logger *log.Logger) (*Ingester, error) {
	chain, err := filter.NewChain(cfg.Filters, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build drop rules: %w", err)
	}

	i := &Ingester{
		store:      st,
		publisher:  pub,
		relayer:    rel,
		chain:      chain,
		normalizer: NewNormalizer(int(cfg.MaxFieldLength), cfg.ReceiverName),
		ids:        core.NewIDGenerator(),
		logger:     logger,
	}
	if journal, ok := st.(store.ErrorJournal); ok && cfg.RecordErrors {
		i.journal = journal
	}
	i.lastAccepted.Store(time.Time{})
	return i, nil
}

// Advances the id generator past the newest stored entry
func (i *Ingester) Seed(ctx context.Context) error {
	last, err := store.Last(ctx, i.store)
	if err != nil {
		return err
	}
	if last == nil || last.ID == "" {
		return nil
	}
	if err := i.ids.Seed(last.ID); err != nil {
		i.logger.Warn("msg", "Newest stored id not seedable, ids restart from clock",
			"component", "ingester",
			"id", last.ID,
			"error", err)
	}
	return nil
}

// Validates, stores and broadcasts one submission
func (i *Ingester) Submit(ctx context.Context, sub Submission) (Result, error) {
	obj, raw, err := DecodeBody(sub.ContentType, sub.Body)
	if err != nil {
		i.Reject(ctx, "bad_request", sub.Meta, err.Error(), sub.Body)
		return Result{}, err
	}

	entry, err := i.normalizer.Normalize(obj, raw, sub.Meta, time.Now().UTC())
	if err != nil {
		i.Reject(ctx, "bad_request", sub.Meta, err.Error(), sub.Body)
		return Result{}, err
	}

	if !i.chain.Apply(entry) {
		i.totalDropped.Add(1)
		return Result{Entry: entry, Dropped: true}, nil
	}

	i.writeMu.Lock()
	entry.ID = i.ids.Next()
	if err := i.store.Append(ctx, entry); err != nil {
		i.writeMu.Unlock()
		i.totalFailed.Add(1)
		i.logger.Error("msg", "Failed to store entry",
			"component", "ingester",
			"backend", i.store.Name(),
			"request_id", sub.Meta.RequestID,
			"error", err)
		return Result{}, err
	}
	i.publisher.Publish(entry)
	i.writeMu.Unlock()

	i.totalAccepted.Add(1)
	i.lastAccepted.Store(time.Now())

	if i.relayer != nil {
		i.relayer.Relay(entry)
	}

	i.logger.Debug("msg", "Entry accepted",
		"component", "ingester",
		"id", entry.ID,
		"request_id", sub.Meta.RequestID,
		"remote_ip", sub.Meta.RemoteIP)
	return Result{Entry: entry}, nil
}

// Logs a rejected submission and records it in the error journal when one is available
func (i *Ingester) Reject(ctx context.Context, reason string, meta RequestMeta, detail string, body []byte) {
	i.totalRejected.Add(1)
	i.logger.Warn("msg", "Submission rejected",
		"component", "ingester",
		"reason", reason,
		"detail", detail,
		"remote_ip", meta.RemoteIP,
		"request_id", meta.RequestID)

	if i.journal == nil {
		return
	}

	rec := core.ErrorRecord{
		Time:   time.Now().UTC(),
		Reason: reason,
		IP:     meta.RemoteIP,
		Detail: detail,
		Body:   journalBody(body),
	}
	if err := i.journal.RecordError(ctx, rec); err != nil {
		i.logger.Warn("msg", "Failed to record rejected submission",
			"component", "ingester",
			"error", err)
	}
}

// Returns the newest journaled rejections, or nil when the backend keeps none
func (i *Ingester) Errors(ctx context.Context, limit int) ([]core.ErrorRecord, error) {
	if i.journal == nil {
		return nil, nil
	}
	return i.journal.Errors(ctx, limit)
}

// Keeps valid JSON bodies verbatim and wraps anything else as a JSON string
func journalBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if len(body) > maxJournaledBody {
		body = body[:maxJournaledBody]
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}

func (i *Ingester) GetStats() map[string]any {
	lastAccepted, _ := i.lastAccepted.Load().(time.Time)
	return map[string]any{
		"total_accepted": i.totalAccepted.Load(),
		"total_rejected": i.totalRejected.Load(),
		"total_dropped":  i.totalDropped.Load(),
		"total_failed":   i.totalFailed.Load(),
		"last_accepted":  lastAccepted,
		"error_journal":  i.journal != nil,
		"filters":        i.chain.GetStats(),
	}
}
