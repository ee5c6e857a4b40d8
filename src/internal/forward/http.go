// FILE: chatwisp/src/internal/forward/http.go
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

// HTTPTarget POSTs each entry as JSON to a downstream receiver
type HTTPTarget struct {
	url    string
	key    string
	client *fasthttp.Client
	logger *log.Logger
}

func NewHTTPTarget(cfg config.ForwardConfig, logger *log.Logger) (*HTTPTarget, error) {
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("forward url must be http:// or https://, got %q", cfg.URL)
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPTarget{
		url: cfg.URL,
		key: cfg.Key,
		client: &fasthttp.Client{
			MaxConnsPerHost:     10,
			MaxIdleConnDuration: 10 * time.Second,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		logger: logger,
	}, nil
}

func (h *HTTPTarget) Send(ctx context.Context, entry core.LogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to encode entry: %v", core.ErrForward, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if h.key != "" {
		req.Header.Set(core.HeaderForwardKey, h.key)
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%w: request failed: %v", core.ErrForward, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: receiver returned status %d: %s", core.ErrForward, status, truncate(resp.Body(), 256))
	}

	h.logger.Debug("msg", "Entry forwarded",
		"component", "http_forward",
		"entry_id", entry.ID,
		"status_code", status)
	return nil
}

func (h *HTTPTarget) Name() string {
	return "http"
}

func (h *HTTPTarget) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
