// FILE: chatwisp/src/internal/hub/hub.go
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/filter"

	"github.com/lixenwraith/log"
)

var ErrHubClosed = errors.New("hub closed")

// Snapshotter provides the newest-first replay window for new subscribers
type Snapshotter interface {
	List(ctx context.Context, limit int) ([]core.LogEntry, error)
}

// Hub fans published entries out to registered subscribers. Each
// subscriber owns a bounded channel; a subscriber whose buffer is full at
// publish time is removed instead of blocking the publisher.
type Hub struct {
	snapshot    Snapshotter
	bufferSize  int
	replayLimit int
	logger      *log.Logger

	// Registry keyed by handle. Sends happen under the read lock and
	// removals under the write lock, so a channel is never closed mid-send.
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	closed      bool

	// Serializes publishers so every subscriber sees one global order
	publishMu sync.Mutex
	nextID    atomic.Uint64

	// Statistics
	totalPublished     atomic.Uint64
	totalSubscribed    atomic.Uint64
	droppedSubscribers atomic.Uint64
	lastPublished      atomic.Value // time.Time
	startTime          time.Time
}

// Creates a hub replaying from snapshot
func New(cfg config.StreamConfig, snapshot Snapshotter, logger *log.Logger) *Hub {
	bufferSize := int(cfg.BufferSize)
	if bufferSize <= 0 {
		bufferSize = 256
	}

	h := &Hub{
		snapshot:    snapshot,
		bufferSize:  bufferSize,
		replayLimit: int(cfg.ReplayLimit),
		logger:      logger,
		subscribers: make(map[uint64]*subscriber),
		startTime:   time.Now(),
	}
	h.lastPublished.Store(time.Time{})
	return h
}

// Registers a subscriber, then loads up to replay entries from the snapshot.
// Registration happens first so nothing published while the snapshot loads
// is missed; the returned subscription skips live entries already replayed.
// A negative replay uses the configured replay limit.
func (h *Hub) Subscribe(ctx context.Context, replay int, expr *filter.Expr) (*Subscription, error) {
	if replay < 0 {
		replay = h.replayLimit
	}

	id := h.nextID.Add(1)
	sub := &subscriber{
		ch: make(chan core.LogEntry, h.bufferSize),
	}
	sub.state.Store(int32(StateConnecting))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subscribers[id] = sub
	h.mu.Unlock()

	h.totalSubscribed.Add(1)

	s := &Subscription{
		ID:     id,
		Events: sub.ch,
		filter: expr,
		hub:    h,
	}

	if replay > 0 && h.snapshot != nil {
		newest, err := h.snapshot.List(ctx, replay)
		if err != nil {
			h.Unsubscribe(id)
			return nil, fmt.Errorf("failed to load replay: %w", err)
		}
		if len(newest) > 0 {
			s.watermark = newest[0].ID
		}
		s.Replay = make([]core.LogEntry, 0, len(newest))
		for i := len(newest) - 1; i >= 0; i-- {
			if expr.Match(newest[i]) {
				s.Replay = append(s.Replay, newest[i])
			}
		}
	}

	sub.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))

	h.logger.Debug("msg", "Subscriber registered",
		"component", "hub",
		"subscriber_id", id,
		"replayed", len(s.Replay),
		"filter", expr.String())
	return s, nil
}

// Delivers entry to every registered subscriber without blocking.
// Subscribers with a full buffer are removed and their channel closed.
func (h *Hub) Publish(entry core.LogEntry) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.totalPublished.Add(1)
	h.lastPublished.Store(time.Now())

	var slow []uint64

	h.mu.RLock()
	for id, sub := range h.subscribers {
		select {
		case sub.ch <- entry:
		default:
			slow = append(slow, id)
		}
	}
	active := len(h.subscribers)
	h.mu.RUnlock()

	for _, id := range slow {
		if h.remove(id) {
			h.droppedSubscribers.Add(1)
			h.logger.Warn("msg", "Dropped slow subscriber",
				"component", "hub",
				"subscriber_id", id,
				"buffer_size", h.bufferSize,
				"active_subscribers", active-1)
		}
	}
}

// Removes a subscriber. Safe to call more than once and concurrently with publish.
func (h *Hub) Unsubscribe(id uint64) {
	if h.remove(id) {
		h.logger.Debug("msg", "Subscriber unregistered",
			"component", "hub",
			"subscriber_id", id)
	}
}

func (h *Hub) remove(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, exists := h.subscribers[id]
	if !exists {
		return false
	}
	delete(h.subscribers, id)
	sub.state.Store(int32(StateClosed))
	close(sub.ch)
	return true
}

// Drops all subscribers and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		sub.state.Store(int32(StateClosed))
		close(sub.ch)
		delete(h.subscribers, id)
	}

	h.logger.Info("msg", "Hub closed",
		"component", "hub",
		"total_published", h.totalPublished.Load())
}

// Returns the number of registered subscribers
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Returns the lifecycle state of a subscriber; unknown handles report StateClosed
func (h *Hub) State(id uint64) State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sub, ok := h.subscribers[id]; ok {
		return State(sub.state.Load())
	}
	return StateClosed
}

func (h *Hub) GetStats() map[string]any {
	lastPub, _ := h.lastPublished.Load().(time.Time)
	return map[string]any{
		"active_subscribers":  h.Active(),
		"total_subscribed":    h.totalSubscribed.Load(),
		"total_published":     h.totalPublished.Load(),
		"dropped_subscribers": h.droppedSubscribers.Load(),
		"buffer_size":         h.bufferSize,
		"replay_limit":        h.replayLimit,
		"last_published":      lastPub,
		"uptime_seconds":      int(time.Since(h.startTime).Seconds()),
	}
}
