// FILE: chatwisp/src/internal/store/upstash_test.go
package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstash implements the subset of the Upstash REST API the store uses
type fakeUpstash struct {
	mu    sync.Mutex
	token string
	lists map[string][]string
}

func newFakeUpstash(token string) *fakeUpstash {
	return &fakeUpstash{token: token, lists: make(map[string][]string)}
}

func (f *fakeUpstash) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/multi-exec":
		var commands [][]string
		if err := json.NewDecoder(r.Body).Decode(&commands); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]map[string]any, 0, len(commands))
		for _, cmd := range commands {
			results = append(results, f.exec(cmd))
		}
		json.NewEncoder(w).Encode(results)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/lrange/"):
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/lrange/"), "/")
		if len(parts) != 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		stop, _ := strconv.Atoi(parts[2])
		list := f.lists[parts[0]]
		if stop+1 < len(list) {
			list = list[:stop+1]
		}
		json.NewEncoder(w).Encode(map[string]any{"result": list})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeUpstash) exec(cmd []string) map[string]any {
	switch cmd[0] {
	case "LPUSH":
		f.lists[cmd[1]] = append([]string{cmd[2]}, f.lists[cmd[1]]...)
		return map[string]any{"result": len(f.lists[cmd[1]])}
	case "LTRIM":
		stop, _ := strconv.Atoi(cmd[3])
		if list := f.lists[cmd[1]]; stop+1 < len(list) {
			f.lists[cmd[1]] = list[:stop+1]
		}
		return map[string]any{"result": "OK"}
	default:
		return map[string]any{"error": "ERR unknown command"}
	}
}

func newTestUpstash(t *testing.T, fake *fakeUpstash, token string, maxEntries int) *UpstashStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewUpstashStore(config.UpstashStoreConfig{
		URL:       srv.URL,
		Token:     token,
		Key:       "chat:logs",
		ErrorsKey: "chat:errors",
		TimeoutMS: 2000,
	}, maxEntries, 3, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpstashStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	fake := newFakeUpstash("secret")
	s := newTestUpstash(t, fake, "secret", 2)

	ids := core.NewIDGenerator()
	for _, q := range []string{"A", "B", "C"} {
		require.NoError(t, s.Append(ctx, makeEntry(ids, q)))
	}

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "C", entries[0].QuestionText())
	assert.Equal(t, "B", entries[1].QuestionText())

	one, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestUpstashStore_ForeignItemsBecomeRaw(t *testing.T) {
	ctx := context.Background()
	fake := newFakeUpstash("secret")
	fake.lists["chat:logs"] = []string{"plain text line"}
	s := newTestUpstash(t, fake, "secret", 10)

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `"plain text line"`, string(entries[0].Raw))
	assert.Equal(t, uint64(1), s.GetStats()["unparsed_items"])
}

func TestUpstashStore_RejectedTokenIsStoreError(t *testing.T) {
	ctx := context.Background()
	fake := newFakeUpstash("secret")
	s := newTestUpstash(t, fake, "wrong", 10)

	ids := core.NewIDGenerator()
	err := s.Append(ctx, makeEntry(ids, "A"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	_, err = s.List(ctx, 10)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestUpstashStore_ErrorJournal(t *testing.T) {
	ctx := context.Background()
	fake := newFakeUpstash("secret")
	s := newTestUpstash(t, fake, "secret", 10)

	for _, reason := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.RecordError(ctx, core.ErrorRecord{Reason: reason}))
	}

	records, err := s.Errors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "d", records[0].Reason)
}

func TestNewUpstashStore_RequiresCredentials(t *testing.T) {
	_, err := NewUpstashStore(config.UpstashStoreConfig{URL: "http://localhost"}, 10, 10, newTestLogger())
	assert.Error(t, err)
}
