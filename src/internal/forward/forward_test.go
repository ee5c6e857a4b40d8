// FILE: chatwisp/src/internal/forward/forward_test.go
package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

// recordingTarget captures delivered entries and can be made to block or fail
type recordingTarget struct {
	mu      sync.Mutex
	sent    []core.LogEntry
	fail    error
	release chan struct{}
	closed  bool
}

func (r *recordingTarget) Send(ctx context.Context, entry core.LogEntry) error {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	r.sent = append(r.sent, entry)
	r.mu.Unlock()
	return nil
}

func (r *recordingTarget) Name() string { return "recording" }

func (r *recordingTarget) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestNew_Disabled(t *testing.T) {
	d, err := New(config.ForwardConfig{}, newTestLogger())
	require.NoError(t, err)
	assert.Nil(t, d)

	// A nil dispatcher is inert
	d.Relay(core.LogEntry{ID: "x"})
	d.Stop(context.Background())
	assert.Equal(t, false, d.GetStats()["enabled"])
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.ForwardConfig{Type: "smoke-signal"}, newTestLogger())
	assert.Error(t, err)
}

func TestDispatcher_DeliversQueuedEntries(t *testing.T) {
	target := &recordingTarget{}
	d := NewDispatcher(target, config.ForwardConfig{QueueSize: 10, Workers: 2}, newTestLogger())

	for _, id := range []string{"a", "b", "c"} {
		d.Relay(core.LogEntry{ID: id})
	}

	d.Stop(context.Background())
	assert.Equal(t, 3, target.count())
	assert.True(t, target.closed)

	stats := d.GetStats()
	assert.Equal(t, uint64(3), stats["total_sent"])
	assert.Equal(t, uint64(0), stats["total_dropped"])
}

func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	target := &recordingTarget{release: make(chan struct{})}
	d := NewDispatcher(target, config.ForwardConfig{QueueSize: 1, Workers: 1}, newTestLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			d.Relay(core.LogEntry{ID: "e"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay blocked on a full queue")
	}

	assert.Greater(t, d.GetStats()["total_dropped"].(uint64), uint64(0))

	close(target.release)
	d.Stop(context.Background())
}

func TestDispatcher_FailuresAreCountedNotRetried(t *testing.T) {
	target := &recordingTarget{fail: errors.New("downstream unavailable")}
	d := NewDispatcher(target, config.ForwardConfig{QueueSize: 4, Workers: 1}, newTestLogger())

	d.Relay(core.LogEntry{ID: "a"})
	d.Relay(core.LogEntry{ID: "b"})
	d.Stop(context.Background())

	stats := d.GetStats()
	assert.Equal(t, uint64(2), stats["total_failed"])
	assert.Equal(t, "downstream unavailable", stats["last_fail_reason"])
}

func TestDispatcher_StopHonorsDeadline(t *testing.T) {
	target := &recordingTarget{release: make(chan struct{})}
	d := NewDispatcher(target, config.ForwardConfig{QueueSize: 4, Workers: 1, TimeoutMS: 60000}, newTestLogger())
	d.Relay(core.LogEntry{ID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Stop(ctx)
	assert.Less(t, time.Since(start), 5*time.Second)

	// Relay after stop is ignored
	d.Relay(core.LogEntry{ID: "late"})
	assert.Equal(t, uint64(1), d.GetStats()["total_queued"])
}
