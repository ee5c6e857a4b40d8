// FILE: chatwisp/src/internal/store/upstash.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

// UpstashStore keeps entries in a remote Redis list reached over the Upstash
// REST API. The list head is the newest entry; push and trim are sent as one
// MULTI/EXEC transaction so the cap holds across concurrent writers.
type UpstashStore struct {
	baseURL    string
	token      string
	key        string
	errorsKey  string
	maxEntries int
	maxErrors  int
	timeout    time.Duration

	client *fasthttp.Client
	logger *log.Logger

	totalAppended atomic.Uint64
	failedCalls   atomic.Uint64
	unparsedItems atomic.Uint64
}

func NewUpstashStore(cfg config.UpstashStoreConfig, maxEntries, maxErrors int, logger *log.Logger) (*UpstashStore, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("upstash url and token are required")
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	u := &UpstashStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		key:        cfg.Key,
		errorsKey:  cfg.ErrorsKey,
		maxEntries: maxEntries,
		maxErrors:  maxErrors,
		timeout:    timeout,
		logger:     logger,
	}

	u.client = &fasthttp.Client{
		Name:                fmt.Sprintf("ChatWisp/%s", version.Short()),
		MaxConnsPerHost:     16,
		MaxIdleConnDuration: 10 * time.Second,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
	}

	return u, nil
}

func (u *UpstashStore) Append(ctx context.Context, entry core.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := u.pushCapped(ctx, u.key, string(payload), u.maxEntries); err != nil {
		return core.StoreError("append", err)
	}
	u.totalAppended.Add(1)
	return nil
}

func (u *UpstashStore) List(ctx context.Context, limit int) ([]core.LogEntry, error) {
	items, err := u.lrange(ctx, u.key, limit)
	if err != nil {
		return nil, core.StoreError("list", err)
	}

	entries := make([]core.LogEntry, 0, len(items))
	for _, item := range items {
		var entry core.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// Keep foreign list items visible, wrapped as raw text
			u.unparsedItems.Add(1)
			raw, _ := json.Marshal(item)
			entry = core.LogEntry{Raw: raw}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (u *UpstashStore) RecordError(ctx context.Context, rec core.ErrorRecord) error {
	if u.errorsKey == "" {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode error record: %w", err)
	}
	if err := u.pushCapped(ctx, u.errorsKey, string(payload), u.maxErrors); err != nil {
		return core.StoreError("record error", err)
	}
	return nil
}

func (u *UpstashStore) Errors(ctx context.Context, limit int) ([]core.ErrorRecord, error) {
	if u.errorsKey == "" {
		return nil, nil
	}
	items, err := u.lrange(ctx, u.errorsKey, limit)
	if err != nil {
		return nil, core.StoreError("list errors", err)
	}

	records := make([]core.ErrorRecord, 0, len(items))
	for _, item := range items {
		var rec core.ErrorRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (u *UpstashStore) Name() string {
	return "upstash"
}

func (u *UpstashStore) GetStats() map[string]any {
	return map[string]any{
		"backend":        "upstash",
		"key":            u.key,
		"max_entries":    u.maxEntries,
		"total_appended": u.totalAppended.Load(),
		"failed_calls":   u.failedCalls.Load(),
		"unparsed_items": u.unparsedItems.Load(),
	}
}

func (u *UpstashStore) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

type upstashResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (u *UpstashStore) pushCapped(ctx context.Context, key, value string, capacity int) error {
	commands := [][]string{
		{"LPUSH", key, value},
		{"LTRIM", key, "0", strconv.Itoa(capacity - 1)},
	}
	body, err := json.Marshal(commands)
	if err != nil {
		return err
	}

	respBody, err := u.call(ctx, fasthttp.MethodPost, "/multi-exec", body)
	if err != nil {
		return err
	}

	var results []upstashResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		return fmt.Errorf("unexpected transaction response: %w", err)
	}
	for i, r := range results {
		if r.Error != "" {
			return fmt.Errorf("command %s failed: %s", commands[i][0], r.Error)
		}
	}
	return nil
}

func (u *UpstashStore) lrange(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	path := fmt.Sprintf("/lrange/%s/0/%d", url.PathEscape(key), limit-1)
	respBody, err := u.call(ctx, fasthttp.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var res upstashResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, fmt.Errorf("unexpected lrange response: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("lrange failed: %s", res.Error)
	}

	var items []string
	if len(res.Result) > 0 && string(res.Result) != "null" {
		if err := json.Unmarshal(res.Result, &items); err != nil {
			return nil, fmt.Errorf("unexpected lrange result: %w", err)
		}
	}
	return items, nil
}

func (u *UpstashStore) call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+u.token)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = u.client.DoDeadline(req, resp, deadline)
	} else {
		err = u.client.DoTimeout(req, resp, u.timeout)
	}
	if err != nil {
		u.failedCalls.Add(1)
		u.logger.Warn("msg", "Upstash request failed",
			"component", "upstash_store",
			"path", path,
			"error", err)
		return nil, fmt.Errorf("upstash request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK {
		u.failedCalls.Add(1)
		u.logger.Warn("msg", "Upstash returned non-OK status",
			"component", "upstash_store",
			"path", path,
			"status_code", statusCode)
		return nil, fmt.Errorf("upstash returned status %d: %s", statusCode, truncateBody(resp.Body()))
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func truncateBody(b []byte) string {
	const maxShown = 200
	if len(b) > maxShown {
		return string(b[:maxShown]) + "..."
	}
	return string(b)
}
