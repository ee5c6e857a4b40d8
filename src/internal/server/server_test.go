// FILE: chatwisp/src/internal/server/server_test.go
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"chatwisp/src/internal/auth"
	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/hub"
	"chatwisp/src/internal/ingest"
	"chatwisp/src/internal/limit"
	"chatwisp/src/internal/store"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type harness struct {
	cfg    *config.Config
	srv    *Server
	ln     *fasthttputil.InmemoryListener
	client *fasthttp.Client
	store  store.Store
	hub    *hub.Hub
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Stream.Heartbeat.IntervalSeconds = 1
	if mutate != nil {
		mutate(cfg)
	}

	logger := log.NewLogger()
	st := store.NewMemoryStore(int(cfg.Store.MaxEntries), int(cfg.Store.MaxErrors))
	h := hub.New(cfg.Stream, st, logger)
	ing, err := ingest.NewIngester(cfg.Ingest, st, h, nil, logger)
	require.NoError(t, err)
	limiter := limit.NewRateLimiter(cfg.Server.RateLimit, logger)

	srv := New(cfg, Dependencies{
		Ingester: ing,
		Store:    st,
		Hub:      h,
		Auth:     auth.New(cfg.Ingest, cfg.Query, logger),
		Access:   limit.NewIPChecker(&cfg.Server.Access, logger),
		Limiter:  limiter,
		Status: func() map[string]any {
			return map[string]any{"store": st.GetStats()}
		},
	}, logger)

	ln := fasthttputil.NewInmemoryListener()
	srv.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		h.Close()
		limiter.Stop()
	})

	return &harness{
		cfg: cfg,
		srv: srv,
		ln:  ln,
		client: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
		store: st,
		hub:   h,
	}
}

func (h *harness) do(t *testing.T, method, uri string, body string, headers ...string) *fasthttp.Response {
	t.Helper()
	req := &fasthttp.Request{}
	resp := &fasthttp.Response{}

	req.SetRequestURI("http://chatwisp" + uri)
	req.Header.SetMethod(method)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	require.NoError(t, h.client.DoTimeout(req, resp, 3*time.Second))
	return resp
}

func (h *harness) post(t *testing.T, body string, headers ...string) *fasthttp.Response {
	t.Helper()
	return h.do(t, fasthttp.MethodPost, PathLogs, body, headers...)
}

func decodeEntries(t *testing.T, resp *fasthttp.Response) []core.LogEntry {
	t.Helper()
	var entries []core.LogEntry
	require.NoError(t, json.Unmarshal(resp.Body(), &entries))
	return entries
}

func TestIngest_CreatesEntry(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.post(t, `{"question":"hi","answer":"hello"}`)
	require.Equal(t, fasthttp.StatusCreated, resp.StatusCode())

	var ack map[string]any
	require.NoError(t, json.Unmarshal(resp.Body(), &ack))
	assert.Equal(t, true, ack["ok"])
	assert.NotEmpty(t, ack["id"])
	assert.NotEmpty(t, ack["request_id"])

	last := h.do(t, fasthttp.MethodGet, PathLast, "")
	require.Equal(t, fasthttp.StatusOK, last.StatusCode())

	var entry core.LogEntry
	require.NoError(t, json.Unmarshal(last.Body(), &entry))
	assert.Equal(t, ack["id"], entry.ID)
	assert.Equal(t, "hi", entry.QuestionText())
	assert.Equal(t, "hello", entry.AnswerText())
	assert.False(t, entry.Timestamp.IsZero())
}

func TestIngest_ForwardedForBecomesOriginIP(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.post(t, `{"question":"q"}`, "X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, fasthttp.StatusCreated, resp.StatusCode())

	last, err := store.Last(context.Background(), h.store)
	require.NoError(t, err)
	require.NotNil(t, last.IP)
	assert.Equal(t, "203.0.113.7", *last.IP)
}

func TestIngest_Rejections(t *testing.T) {
	h := newHarness(t, nil)

	testCases := []struct {
		name string
		body string
	}{
		{"Malformed", `{"question":`},
		{"NotObject", `["a","b"]`},
		{"NoPayload", `{"session":"s1"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.post(t, tc.body)
			assert.Equal(t, fasthttp.StatusBadRequest, resp.StatusCode())
			assert.Contains(t, string(resp.Body()), `"error"`)
		})
	}

	empty := h.do(t, fasthttp.MethodPost, PathLogs, "")
	assert.Equal(t, fasthttp.StatusBadRequest, empty.StatusCode())

	// Nothing persisted, every rejection journaled
	entries := decodeEntries(t, h.do(t, fasthttp.MethodGet, "/logs?limit=10", ""))
	assert.Empty(t, entries)

	var records []core.ErrorRecord
	require.NoError(t, json.Unmarshal(h.do(t, fasthttp.MethodGet, PathErrors, "").Body(), &records))
	require.Len(t, records, 4)
	assert.Equal(t, "bad_request", records[0].Reason)
}

func TestIngest_WriteKey(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Ingest.WriteKey = "write-secret"
	})

	assert.Equal(t, fasthttp.StatusUnauthorized, h.post(t, `{"question":"a"}`).StatusCode())
	assert.Equal(t, fasthttp.StatusUnauthorized, h.post(t, `{"question":"a"}`, core.HeaderWriteKey, "wrong").StatusCode())
	assert.Equal(t, fasthttp.StatusCreated, h.post(t, `{"question":"a"}`, core.HeaderWriteKey, "write-secret").StatusCode())
	assert.Equal(t, fasthttp.StatusCreated, h.post(t, `{"question":"b"}`, core.HeaderForwardKey, "write-secret").StatusCode())

	entries := decodeEntries(t, h.do(t, fasthttp.MethodGet, "/logs?limit=10", ""))
	assert.Len(t, entries, 2)

	var records []core.ErrorRecord
	require.NoError(t, json.Unmarshal(h.do(t, fasthttp.MethodGet, PathErrors, "").Body(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "unauthorized", records[0].Reason)
}

func TestQuery_LimitDefaultsAndCap(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Query.DefaultLimit = 2
		cfg.Query.MaxLimit = 3
	})

	for i := 0; i < 5; i++ {
		require.Equal(t, fasthttp.StatusCreated, h.post(t, fmt.Sprintf(`{"question":"q%d"}`, i)).StatusCode())
	}

	testCases := []struct {
		name     string
		uri      string
		accept   string
		expected []string
	}{
		{"Explicit", "/logs?limit=1", "", []string{"q4"}},
		{"Capped", "/logs?limit=100", "", []string{"q4", "q3", "q2"}},
		{"InvalidUsesDefault", "/logs?limit=abc", "", []string{"q4", "q3"}},
		{"AcceptJSON", "/logs", "application/json", []string{"q4", "q3"}},
		{"LegacyAlias", "/api/receive", "", []string{"q4", "q3"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var headers []string
			if tc.accept != "" {
				headers = []string{"Accept", tc.accept}
			}
			resp := h.do(t, fasthttp.MethodGet, tc.uri, "", headers...)
			require.Equal(t, fasthttp.StatusOK, resp.StatusCode())

			entries := decodeEntries(t, resp)
			got := make([]string, 0, len(entries))
			for _, e := range entries {
				got = append(got, e.QuestionText())
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestQuery_Filter(t *testing.T) {
	h := newHarness(t, nil)
	for _, q := range []string{"alpha", "beta", "alphabet"} {
		h.post(t, fmt.Sprintf(`{"question":%q}`, q))
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("limit", "10")
	args.Set("filter", `question.startsWith("alpha")`)

	resp := h.do(t, fasthttp.MethodGet, "/logs?"+args.String(), "")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	entries := decodeEntries(t, resp)
	require.Len(t, entries, 2)
	assert.Equal(t, "alphabet", entries[0].QuestionText())

	args.Set("filter", `question +`)
	bad := h.do(t, fasthttp.MethodGet, "/logs?"+args.String(), "")
	assert.Equal(t, fasthttp.StatusBadRequest, bad.StatusCode())
}

func TestRead_Credentials(t *testing.T) {
	jwtCfg := config.JWTConfig{SigningKey: "jwt-signing-key-for-tests-only"}
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Query.ViewKey = "view-secret"
		cfg.Query.JWT = jwtCfg
	})
	h.post(t, `{"question":"q"}`)

	token, err := auth.IssueToken(jwtCfg, "dashboard", time.Minute)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		uri      string
		headers  []string
		expected int
	}{
		{"Missing", "/logs?limit=1", nil, fasthttp.StatusUnauthorized},
		{"WrongKey", "/logs?limit=1&key=nope", nil, fasthttp.StatusUnauthorized},
		{"QueryKey", "/logs?limit=1&key=view-secret", nil, fasthttp.StatusOK},
		{"ViewHeader", "/logs?limit=1", []string{core.HeaderViewKey, "view-secret"}, fasthttp.StatusOK},
		{"WriteHeaderFallback", "/logs/last", []string{core.HeaderWriteKey, "view-secret"}, fasthttp.StatusOK},
		{"Bearer", "/api/last", []string{"Authorization", "Bearer " + token}, fasthttp.StatusOK},
		{"BadBearer", "/api/last", []string{"Authorization", "Bearer garbage"}, fasthttp.StatusUnauthorized},
		{"ErrorsProtected", PathErrors, nil, fasthttp.StatusUnauthorized},
		{"StatusOpen", PathStatus, nil, fasthttp.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, fasthttp.MethodGet, tc.uri, "", tc.headers...)
			assert.Equal(t, tc.expected, resp.StatusCode())
		})
	}
}

func TestLast_EmptyIsNull(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, fasthttp.MethodGet, PathLegacyLast, "")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "null", strings.TrimSpace(string(resp.Body())))
}

func TestRouting(t *testing.T) {
	h := newHarness(t, nil)

	notFound := h.do(t, fasthttp.MethodGet, "/nope", "")
	assert.Equal(t, fasthttp.StatusNotFound, notFound.StatusCode())

	wrong := h.do(t, fasthttp.MethodDelete, PathLogs, "")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, wrong.StatusCode())
	assert.Contains(t, string(wrong.Header.Peek("Allow")), "POST")

	lastPost := h.do(t, fasthttp.MethodPost, PathLast, `{"question":"x"}`)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, lastPost.StatusCode())

	preflight := h.do(t, fasthttp.MethodOptions, PathLogs, "")
	assert.Equal(t, fasthttp.StatusNoContent, preflight.StatusCode())
	assert.Equal(t, "*", string(preflight.Header.Peek("Access-Control-Allow-Origin")))
	assert.Contains(t, string(preflight.Header.Peek("Access-Control-Allow-Headers")), "X-Log-Key")

	legacy := h.do(t, fasthttp.MethodPost, PathLegacyRecv, `{"userMessage":"u","aiResponse":"a"}`)
	assert.Equal(t, fasthttp.StatusOK, legacy.StatusCode())
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, fasthttp.MethodGet, PathStatus, "")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())

	var status map[string]any
	require.NoError(t, json.Unmarshal(resp.Body(), &status))
	assert.Equal(t, "ChatWisp", status["service"])
	assert.Contains(t, status, "statistics")
	assert.Contains(t, status, "server")
}

func TestAccessControl(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Server.Access.IPBlacklist = []string{"0.0.0.0/0", "::/0"}
	})

	assert.Equal(t, fasthttp.StatusForbidden, h.post(t, `{"question":"q"}`).StatusCode())
	assert.Equal(t, fasthttp.StatusOK, h.do(t, fasthttp.MethodGet, PathStatus, "").StatusCode())
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 1}
	})

	assert.Equal(t, fasthttp.StatusCreated, h.post(t, `{"question":"1"}`).StatusCode())
	limited := h.post(t, `{"question":"2"}`)
	assert.Equal(t, fasthttp.StatusTooManyRequests, limited.StatusCode())
	assert.Equal(t, "1", string(limited.Header.Peek("Retry-After")))
}

// Minimal SSE client over a raw connection
type sseClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func (h *harness) openStream(t *testing.T, uri string, headers ...string) *sseClient {
	t.Helper()
	conn, err := h.ln.Dial()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\nHost: chatwisp\r\nAccept: text/event-stream\r\n", uri)
	for i := 0; i+1 < len(headers); i += 2 {
		fmt.Fprintf(&b, "%s: %s\r\n", headers[i], headers[i+1])
	}
	b.WriteString("\r\n")
	_, err = conn.Write([]byte(b.String()))
	require.NoError(t, err)

	return &sseClient{conn: conn, r: bufio.NewReader(conn)}
}

// Returns the next event name and data; heartbeat comments are reported as "heartbeat"
func (c *sseClient) next(t *testing.T) (string, string) {
	t.Helper()
	event := "message"
	for {
		c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		line, err := c.r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return event, strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, ": heartbeat"):
			return "heartbeat", ""
		}
	}
}

// Skips heartbeats until an entry arrives
func (c *sseClient) nextEntry(t *testing.T) core.LogEntry {
	t.Helper()
	for {
		event, data := c.next(t)
		if event == "heartbeat" {
			continue
		}
		require.Equal(t, "message", event, data)
		var entry core.LogEntry
		require.NoError(t, json.Unmarshal([]byte(data), &entry))
		return entry
	}
}

func TestStream_ReplayThenLive(t *testing.T) {
	h := newHarness(t, nil)
	h.post(t, `{"question":"A"}`)
	h.post(t, `{"question":"B"}`)

	stream := h.openStream(t, PathLogs)
	event, data := stream.next(t)
	require.Equal(t, "connected", event)
	assert.Contains(t, data, `"replay":2`)

	assert.Equal(t, "A", stream.nextEntry(t).QuestionText())
	assert.Equal(t, "B", stream.nextEntry(t).QuestionText())

	require.Equal(t, fasthttp.StatusCreated, h.post(t, `{"question":"C","answer":"live"}`).StatusCode())
	live := stream.nextEntry(t)
	assert.Equal(t, "C", live.QuestionText())
	assert.Equal(t, "live", live.AnswerText())
}

func TestStream_ReplayWindowAndFilter(t *testing.T) {
	h := newHarness(t, nil)
	for _, q := range []string{"keep-1", "skip", "keep-2", "keep-3"} {
		h.post(t, fmt.Sprintf(`{"question":%q}`, q))
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("replay", "3")
	args.Set("filter", `question.startsWith("keep")`)

	stream := h.openStream(t, PathStream+"?"+args.String())
	event, _ := stream.next(t)
	require.Equal(t, "connected", event)

	// Window of three newest, filtered, oldest first
	assert.Equal(t, "keep-2", stream.nextEntry(t).QuestionText())
	assert.Equal(t, "keep-3", stream.nextEntry(t).QuestionText())

	h.post(t, `{"question":"skip-live"}`)
	h.post(t, `{"question":"keep-live"}`)
	assert.Equal(t, "keep-live", stream.nextEntry(t).QuestionText())
}

func TestStream_LastEventIDSkipsSeen(t *testing.T) {
	h := newHarness(t, nil)
	h.post(t, `{"question":"old"}`)
	seen, err := store.Last(context.Background(), h.store)
	require.NoError(t, err)
	h.post(t, `{"question":"new"}`)

	stream := h.openStream(t, PathStream, "Last-Event-ID", seen.ID)
	event, _ := stream.next(t)
	require.Equal(t, "connected", event)
	assert.Equal(t, "new", stream.nextEntry(t).QuestionText())
}

func TestStream_Heartbeat(t *testing.T) {
	h := newHarness(t, nil)
	stream := h.openStream(t, PathStream)

	event, _ := stream.next(t)
	require.Equal(t, "connected", event)
	event, _ = stream.next(t)
	assert.Equal(t, "heartbeat", event)
}

func TestStream_ClientDisconnectUnsubscribes(t *testing.T) {
	h := newHarness(t, nil)
	stream := h.openStream(t, PathStream)
	event, _ := stream.next(t)
	require.Equal(t, "connected", event)
	require.Equal(t, 1, h.hub.Active())

	stream.conn.Close()

	// The next heartbeat write fails and releases the subscription
	assert.Eventually(t, func() bool { return h.hub.Active() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestStream_IdleDisconnectWithoutHeartbeatComments(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stream.Heartbeat.Enabled = false
		cfg.Stream.Heartbeat.IntervalSeconds = 1
	})
	stream := h.openStream(t, PathStream)
	event, data := stream.next(t)
	require.Equal(t, "connected", event)
	assert.Contains(t, data, `"heartbeat":0`)
	require.Equal(t, 1, h.hub.Active())

	stream.conn.Close()

	// No entry is published; the liveness write alone releases the subscription
	assert.Eventually(t, func() bool { return h.hub.Active() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestStream_ShutdownSendsDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	stream := h.openStream(t, PathStream)
	event, _ := stream.next(t)
	require.Equal(t, "connected", event)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.srv.Stop(ctx)
	}()

	for {
		event, data := stream.next(t)
		if event == "heartbeat" {
			continue
		}
		assert.Equal(t, "disconnect", event)
		assert.Contains(t, data, "server_shutdown")
		return
	}
}

func TestStream_RequiresViewKey(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Query.ViewKey = "view-secret"
	})

	resp := h.do(t, fasthttp.MethodGet, PathStream, "")
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode())

	stream := h.openStream(t, PathStream+"?key=view-secret")
	event, _ := stream.next(t)
	assert.Equal(t, "connected", event)
}
