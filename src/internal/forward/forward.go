// FILE: chatwisp/src/internal/forward/forward.go
package forward

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Target delivers one entry to a downstream system
type Target interface {
	Send(ctx context.Context, entry core.LogEntry) error
	Name() string
	Close() error
}

// Dispatcher queues accepted entries and hands them to a Target on worker goroutines.
// Delivery is best effort: a full queue drops the entry and failures are not retried.
type Dispatcher struct {
	target  Target
	queue   chan core.LogEntry
	timeout time.Duration
	workers int
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	totalQueued    atomic.Uint64
	totalSent      atomic.Uint64
	totalFailed    atomic.Uint64
	totalDropped   atomic.Uint64
	lastSent       atomic.Value // time.Time
	lastFailReason atomic.Value // string
}

// Creates a dispatcher for the configured target. Returns nil when forwarding is disabled.
func New(cfg config.ForwardConfig, logger *log.Logger) (*Dispatcher, error) {
	var target Target
	var err error

	switch cfg.Type {
	case "":
		return nil, nil
	case "http":
		target, err = NewHTTPTarget(cfg, logger)
	case "kafka":
		target, err = NewKafkaTarget(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown forward type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return NewDispatcher(target, cfg, logger), nil
}

// Creates a dispatcher around an existing target and starts its workers
func NewDispatcher(target Target, cfg config.ForwardConfig, logger *log.Logger) *Dispatcher {
	queueSize := int(cfg.QueueSize)
	if queueSize <= 0 {
		queueSize = 1000
	}
	workers := int(cfg.Workers)
	if workers <= 0 {
		workers = 2
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		target:  target,
		queue:   make(chan core.LogEntry, queueSize),
		timeout: timeout,
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	d.lastSent.Store(time.Time{})
	d.lastFailReason.Store("")

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	logger.Info("msg", "Forwarder started",
		"component", "forward",
		"target", target.Name(),
		"queue_size", queueSize,
		"workers", workers)
	return d
}

// Queues an entry for delivery without blocking the caller
func (d *Dispatcher) Relay(entry core.LogEntry) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- entry:
		d.totalQueued.Add(1)
	default:
		d.totalDropped.Add(1)
		d.logger.Warn("msg", "Forward queue full, dropping entry",
			"component", "forward",
			"target", d.target.Name(),
			"entry_id", entry.ID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for entry := range d.queue {
		d.deliver(entry)
	}
}

func (d *Dispatcher) deliver(entry core.LogEntry) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if err := d.target.Send(ctx, entry); err != nil {
		d.totalFailed.Add(1)
		d.lastFailReason.Store(err.Error())
		d.logger.Warn("msg", "Forward failed",
			"component", "forward",
			"target", d.target.Name(),
			"entry_id", entry.ID,
			"error", err)
		return
	}

	d.totalSent.Add(1)
	d.lastSent.Store(time.Now())
}

// Drains queued entries, bounded by ctx, then closes the target
func (d *Dispatcher) Stop(ctx context.Context) {
	if d == nil {
		return
	}

	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			// Abort in-flight sends
			d.cancel()
			<-done
		}
		d.cancel()

		if err := d.target.Close(); err != nil {
			d.logger.Error("msg", "Failed to close forward target",
				"component", "forward",
				"target", d.target.Name(),
				"error", err)
		}

		d.logger.Info("msg", "Forwarder stopped",
			"component", "forward",
			"target", d.target.Name(),
			"total_sent", d.totalSent.Load(),
			"total_failed", d.totalFailed.Load(),
			"total_dropped", d.totalDropped.Load())
	})
}

func (d *Dispatcher) GetStats() map[string]any {
	if d == nil {
		return map[string]any{"enabled": false}
	}

	lastSent, _ := d.lastSent.Load().(time.Time)
	lastFail, _ := d.lastFailReason.Load().(string)
	return map[string]any{
		"enabled":          true,
		"target":           d.target.Name(),
		"workers":          d.workers,
		"queue_depth":      len(d.queue),
		"queue_capacity":   cap(d.queue),
		"total_queued":     d.totalQueued.Load(),
		"total_sent":       d.totalSent.Load(),
		"total_failed":     d.totalFailed.Load(),
		"total_dropped":    d.totalDropped.Load(),
		"last_sent":        lastSent,
		"last_fail_reason": lastFail,
	}
}
