// FILE: chatwisp/src/internal/store/store_test.go
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
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

func makeEntry(ids *core.IDGenerator, question string) core.LogEntry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return core.LogEntry{
		ID:         ids.Next(),
		Timestamp:  now,
		ReceivedAt: now,
		Question:   core.StringPtr(question),
	}
}

// Backends that run without external services
func localBackends(t *testing.T, maxEntries int) map[string]Store {
	t.Helper()
	logger := newTestLogger()

	fileStore, err := NewFileStore(config.FileStoreConfig{Directory: t.TempDir(), Name: "received"}, maxEntries, 3, logger)
	require.NoError(t, err)

	zstStore, err := NewFileStore(config.FileStoreConfig{Directory: t.TempDir(), Name: "received", Compress: true}, maxEntries, 3, logger)
	require.NoError(t, err)

	pebbleStore, err := NewPebbleStore(config.PebbleStoreConfig{Directory: filepath.Join(t.TempDir(), "db")}, maxEntries, 3, logger)
	require.NoError(t, err)

	backends := map[string]Store{
		"memory":          NewMemoryStore(maxEntries, 3),
		"file":            fileStore,
		"file_compressed": zstStore,
		"pebble":          pebbleStore,
	}
	t.Cleanup(func() {
		for _, s := range backends {
			s.Close()
		}
	})
	return backends
}

func TestStore_Retention(t *testing.T) {
	ctx := context.Background()

	for name, s := range localBackends(t, 2) {
		t.Run(name, func(t *testing.T) {
			ids := core.NewIDGenerator()
			for _, q := range []string{"A", "B", "C"} {
				require.NoError(t, s.Append(ctx, makeEntry(ids, q)))
			}

			entries, err := s.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "C", entries[0].QuestionText())
			assert.Equal(t, "B", entries[1].QuestionText())
		})
	}
}

func TestStore_KeepsLastMOfN(t *testing.T) {
	ctx := context.Background()
	const m, n = 5, 12

	for name, s := range localBackends(t, m) {
		t.Run(name, func(t *testing.T) {
			ids := core.NewIDGenerator()
			for i := 0; i < n; i++ {
				require.NoError(t, s.Append(ctx, makeEntry(ids, fmt.Sprintf("q%d", i))))
			}

			entries, err := s.List(ctx, 100)
			require.NoError(t, err)
			require.Len(t, entries, m)
			for i, e := range entries {
				assert.Equal(t, fmt.Sprintf("q%d", n-1-i), e.QuestionText())
			}
		})
	}
}

func TestStore_ListLimitAndIdempotence(t *testing.T) {
	ctx := context.Background()

	for name, s := range localBackends(t, 10) {
		t.Run(name, func(t *testing.T) {
			ids := core.NewIDGenerator()
			for i := 0; i < 4; i++ {
				require.NoError(t, s.Append(ctx, makeEntry(ids, fmt.Sprintf("q%d", i))))
			}

			first, err := s.List(ctx, 3)
			require.NoError(t, err)
			assert.Len(t, first, 3)

			second, err := s.List(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			none, err := s.List(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, none)

			last, err := Last(ctx, s)
			require.NoError(t, err)
			require.NotNil(t, last)
			assert.Equal(t, "q3", last.QuestionText())
		})
	}
}

func TestStore_EmptyLast(t *testing.T) {
	ctx := context.Background()
	for name, s := range localBackends(t, 10) {
		t.Run(name, func(t *testing.T) {
			last, err := Last(ctx, s)
			require.NoError(t, err)
			assert.Nil(t, last)
		})
	}
}

func TestStore_ErrorJournal(t *testing.T) {
	ctx := context.Background()
	for name, s := range localBackends(t, 10) {
		t.Run(name, func(t *testing.T) {
			journal, ok := s.(ErrorJournal)
			require.True(t, ok)

			for i := 0; i < 5; i++ {
				require.NoError(t, journal.RecordError(ctx, core.ErrorRecord{
					Time:   time.Now(),
					Reason: fmt.Sprintf("r%d", i),
				}))
			}

			records, err := journal.Errors(ctx, 10)
			require.NoError(t, err)
			require.Len(t, records, 3)
			assert.Equal(t, "r4", records[0].Reason)

			entries, err := s.List(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestFileStore_CorruptDocumentReadsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "received.json"), []byte("{not json"), 0o644))

	s, err := NewFileStore(config.FileStoreConfig{Directory: dir, Name: "received"}, 5, 5, newTestLogger())
	require.NoError(t, err)

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	ids := core.NewIDGenerator()
	require.NoError(t, s.Append(ctx, makeEntry(ids, "fresh")))

	entries, err = s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].QuestionText())
	assert.GreaterOrEqual(t, s.GetStats()["corrupt_reads"].(uint64), uint64(1))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.FileStoreConfig{Directory: dir, Name: "received"}

	s, err := NewFileStore(cfg, 5, 5, newTestLogger())
	require.NoError(t, err)
	ids := core.NewIDGenerator()
	require.NoError(t, s.Append(ctx, makeEntry(ids, "persisted")))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(cfg, 5, 5, newTestLogger())
	require.NoError(t, err)
	last, err := Last(ctx, reopened)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "persisted", last.QuestionText())
}

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.PebbleStoreConfig{Directory: filepath.Join(t.TempDir(), "db")}

	s, err := NewPebbleStore(cfg, 3, 3, newTestLogger())
	require.NoError(t, err)
	ids := core.NewIDGenerator()
	for _, q := range []string{"A", "B", "C", "D"} {
		require.NoError(t, s.Append(ctx, makeEntry(ids, q)))
	}
	require.NoError(t, s.Close())

	reopened, err := NewPebbleStore(cfg, 3, 3, newTestLogger())
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Append(ctx, makeEntry(ids, "E")))
	entries, err := reopened.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"E", "D", "C"}, []string{
		entries[0].QuestionText(), entries[1].QuestionText(), entries[2].QuestionText(),
	})
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StoreConfig{Backend: "nope", MaxEntries: 1}, newTestLogger())
	assert.Error(t, err)
}
