// FILE: chatwisp/src/internal/core/id_test.go
package core

import (
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_Next(t *testing.T) {
	t.Run("StrictlyIncreasing", func(t *testing.T) {
		g := NewIDGenerator()
		prev := g.Next()
		for i := 0; i < 1000; i++ {
			id := g.Next()
			assert.Len(t, id, IDLength)
			assert.Greater(t, id, prev)
			prev = id
		}
	})

	t.Run("ClockRegression", func(t *testing.T) {
		clock := time.UnixMilli(1_700_000_000_000)
		g := &IDGenerator{now: func() time.Time { return clock }}

		first := g.Next()
		clock = clock.Add(-time.Hour)
		second := g.Next()

		assert.Greater(t, second, first)
	})

	t.Run("ConcurrentUnique", func(t *testing.T) {
		g := NewIDGenerator()
		var mu sync.Mutex
		seen := make(map[string]bool)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					id := g.Next()
					mu.Lock()
					seen[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 1600)
	})
}

func TestIDGenerator_Seed(t *testing.T) {
	clock := time.UnixMilli(1_000)
	g := &IDGenerator{now: func() time.Time { return clock }}

	future := formatID(5_000, 7, 0)
	require.NoError(t, g.Seed(future))
	assert.Greater(t, g.Next(), future)

	t.Run("OlderSeedIgnored", func(t *testing.T) {
		last := g.Next()
		require.NoError(t, g.Seed(formatID(1, 1, 0)))
		assert.Greater(t, g.Next(), last)
	})

	t.Run("Invalid", func(t *testing.T) {
		assert.Error(t, g.Seed("short"))
		assert.Error(t, g.Seed("zz000000000000000000000000000000"))
	})
}

func TestParseID_SortOrderMatchesTime(t *testing.T) {
	ids := []string{formatID(30, 0, 9), formatID(10, 5, 1), formatID(20, 0, 3), formatID(10, 1, 7)}
	sort.Strings(ids)

	var lastMs int64
	var lastSeq uint32
	for _, id := range ids {
		ms, seq, _, err := ParseID(id)
		require.NoError(t, err)
		if ms == lastMs {
			assert.Greater(t, seq, lastSeq)
		} else {
			assert.Greater(t, ms, lastMs)
		}
		lastMs, lastSeq = ms, seq
	}
}

func TestIDGenerator_DistinctNodesNeverCollide(t *testing.T) {
	clock := time.UnixMilli(1_760_000_000_000)
	frozen := func() time.Time { return clock }

	a := &IDGenerator{now: frozen, node: 1}
	b := &IDGenerator{now: frozen, node: 2}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		for _, id := range []string{a.Next(), b.Next()} {
			require.False(t, seen[id], id)
			seen[id] = true

			ms, _, _, err := ParseID(id)
			require.NoError(t, err)
			assert.Equal(t, clock.UnixMilli(), ms)
		}
	}
}

func TestIDGenerator_SeedFromOtherNode(t *testing.T) {
	clock := time.UnixMilli(1_000)
	g := &IDGenerator{now: func() time.Time { return clock }, node: 1}

	// Same millisecond and sequence, higher node
	other := formatID(1_000, 3, math.MaxUint32)
	require.NoError(t, g.Seed(other))

	next := g.Next()
	assert.Greater(t, next, other)
	_, seq, node, err := ParseID(next)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), seq)
	assert.Equal(t, uint32(1), node)
}

func TestNewIDGenerator_RandomNode(t *testing.T) {
	nodes := make(map[uint32]bool)
	for i := 0; i < 16; i++ {
		nodes[NewIDGenerator().Node()] = true
	}
	assert.Greater(t, len(nodes), 1)

	g := NewIDGenerator()
	_, _, node, err := ParseID(g.Next())
	require.NoError(t, err)
	assert.Equal(t, g.Node(), node)
}
