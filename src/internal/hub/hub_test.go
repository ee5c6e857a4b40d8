// FILE: chatwisp/src/internal/hub/hub_test.go
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/filter"
	"chatwisp/src/internal/store"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func newEntry(ids *core.IDGenerator, q string) core.LogEntry {
	return core.LogEntry{ID: ids.Next(), Timestamp: time.Now(), ReceivedAt: time.Now(), Question: core.StringPtr(q)}
}

// hookedSnapshot runs a hook before returning the snapshot
type hookedSnapshot struct {
	store.Store
	before func()
}

func (h *hookedSnapshot) List(ctx context.Context, limit int) ([]core.LogEntry, error) {
	if h.before != nil {
		h.before()
	}
	return h.Store.List(ctx, limit)
}

type failingSnapshot struct{}

func (failingSnapshot) List(context.Context, int) ([]core.LogEntry, error) {
	return nil, errors.New("backend down")
}

func receive(t *testing.T, ch <-chan core.LogEntry) core.LogEntry {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return core.LogEntry{}
	}
}

func TestHub_ReplayThenLive(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(100, 10)
	h := New(config.StreamConfig{BufferSize: 8, ReplayLimit: 50}, mem, newTestLogger())
	ids := core.NewIDGenerator()

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Append(ctx, newEntry(ids, fmt.Sprintf("q%d", i))))
	}

	sub, err := h.Subscribe(ctx, -1, nil)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, sub.Replay, 3)
	for i, e := range sub.Replay {
		assert.Equal(t, fmt.Sprintf("q%d", i), e.QuestionText())
	}
	assert.Equal(t, StateActive, h.State(sub.ID))

	live := newEntry(ids, "live")
	require.NoError(t, mem.Append(ctx, live))
	h.Publish(live)

	got := receive(t, sub.Events)
	assert.True(t, sub.Accept(got))
	assert.Equal(t, "live", got.QuestionText())
}

func TestHub_PublishDuringSnapshotIsNotDuplicated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(100, 10)
	ids := core.NewIDGenerator()
	require.NoError(t, mem.Append(ctx, newEntry(ids, "old")))

	snap := &hookedSnapshot{Store: mem}
	h := New(config.StreamConfig{BufferSize: 8, ReplayLimit: 50}, snap, newTestLogger())

	// An entry lands after registration but before the snapshot is read
	racing := newEntry(ids, "racing")
	snap.before = func() {
		require.NoError(t, mem.Append(ctx, racing))
		h.Publish(racing)
	}

	sub, err := h.Subscribe(ctx, -1, nil)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, sub.Replay, 2)
	assert.Equal(t, "racing", sub.Replay[1].QuestionText())

	got := receive(t, sub.Events)
	assert.Equal(t, racing.ID, got.ID)
	assert.False(t, sub.Accept(got), "replayed entry must not be delivered twice")

	next := newEntry(ids, "next")
	h.Publish(next)
	assert.True(t, sub.Accept(receive(t, sub.Events)))
}

func TestHub_SlowSubscriberRemoved(t *testing.T) {
	h := New(config.StreamConfig{BufferSize: 1}, nil, newTestLogger())
	ids := core.NewIDGenerator()

	slow, err := h.Subscribe(context.Background(), 0, nil)
	require.NoError(t, err)
	fast, err := h.Subscribe(context.Background(), 0, nil)
	require.NoError(t, err)

	h.Publish(newEntry(ids, "one"))
	receive(t, fast.Events)
	h.Publish(newEntry(ids, "two"))

	// slow still holds "one" and could not take "two"
	e, ok := <-slow.Events
	assert.True(t, ok)
	assert.Equal(t, "one", e.QuestionText())
	_, ok = <-slow.Events
	assert.False(t, ok, "slow subscriber channel should be closed")
	assert.Equal(t, StateClosed, h.State(slow.ID))

	assert.Equal(t, "two", receive(t, fast.Events).QuestionText())
	assert.Equal(t, 1, h.Active())
	assert.Equal(t, uint64(1), h.GetStats()["dropped_subscribers"])
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := New(config.StreamConfig{BufferSize: 4}, nil, newTestLogger())
	ids := core.NewIDGenerator()

	sub, err := h.Subscribe(context.Background(), 0, nil)
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	h.Unsubscribe(sub.ID)
	h.Unsubscribe(9999)

	assert.NotPanics(t, func() { h.Publish(newEntry(ids, "after")) })
	assert.Equal(t, 0, h.Active())
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := New(config.StreamConfig{BufferSize: 2}, nil, newTestLogger())
	ids := core.NewIDGenerator()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, err := h.Subscribe(context.Background(), 0, nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			sub.Close()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Publish(newEntry(ids, "x"))
		}
	}()

	wg.Wait()
	assert.Equal(t, 0, h.Active())
}

func TestHub_Filter(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(100, 10)
	ids := core.NewIDGenerator()

	de := newEntry(ids, "hallo")
	de.Country = core.StringPtr("DE")
	fr := newEntry(ids, "bonjour")
	fr.Country = core.StringPtr("FR")
	require.NoError(t, mem.Append(ctx, de))
	require.NoError(t, mem.Append(ctx, fr))

	expr, err := filter.CompileExpr(`country == "DE"`)
	require.NoError(t, err)

	h := New(config.StreamConfig{BufferSize: 4, ReplayLimit: 10}, mem, newTestLogger())
	sub, err := h.Subscribe(ctx, -1, expr)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, sub.Replay, 1)
	assert.Equal(t, "hallo", sub.Replay[0].QuestionText())

	live := newEntry(ids, "moin")
	live.Country = core.StringPtr("FR")
	h.Publish(live)
	assert.False(t, sub.Accept(receive(t, sub.Events)))
}

func TestHub_SnapshotFailureUnregisters(t *testing.T) {
	h := New(config.StreamConfig{BufferSize: 4, ReplayLimit: 10}, failingSnapshot{}, newTestLogger())

	_, err := h.Subscribe(context.Background(), -1, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, h.Active())
}

func TestHub_Close(t *testing.T) {
	h := New(config.StreamConfig{BufferSize: 4}, nil, newTestLogger())

	sub, err := h.Subscribe(context.Background(), 0, nil)
	require.NoError(t, err)

	h.Close()
	_, ok := <-sub.Events
	assert.False(t, ok)

	_, err = h.Subscribe(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrHubClosed)

	assert.NotPanics(t, func() {
		sub.Close()
		h.Close()
	})
}
