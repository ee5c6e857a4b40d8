// FILE: chatwisp/src/internal/server/request.go
package server

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"chatwisp/src/internal/auth"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/ingest"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"Internal server error"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, map[string]string{"error": message})
}

// Maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case core.IsValidation(err):
		return fasthttp.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorized):
		return fasthttp.StatusUnauthorized
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Peer address of the connection, used for access control and rate limiting
func socketIP(ctx *fasthttp.RequestCtx) string {
	return ctx.RemoteIP().String()
}

// Originating client address: first X-Forwarded-For hop, else the peer
func clientIP(ctx *fasthttp.RequestCtx) string {
	if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return socketIP(ctx)
}

func requestMeta(ctx *fasthttp.RequestCtx) ingest.RequestMeta {
	return ingest.RequestMeta{
		RemoteIP:  clientIP(ctx),
		UserAgent: string(ctx.UserAgent()),
		RequestID: uuid.NewString(),
	}
}

func writeCredentials(ctx *fasthttp.RequestCtx) auth.WriteCredentials {
	var keys []string
	for _, h := range []string{core.HeaderWriteKey, core.HeaderWriteKeyAlt, core.HeaderForwardKey} {
		if v := strings.TrimSpace(string(ctx.Request.Header.Peek(h))); v != "" {
			keys = append(keys, v)
		}
	}
	return auth.WriteCredentials{Keys: keys}
}

func readCredentials(ctx *fasthttp.RequestCtx) auth.ReadCredentials {
	key := string(ctx.QueryArgs().Peek(core.QueryParamViewKey))
	if key == "" {
		key = string(ctx.Request.Header.Peek(core.HeaderViewKey))
	}
	if key == "" {
		key = string(ctx.Request.Header.Peek(core.HeaderWriteKey))
	}
	return auth.ReadCredentials{
		Key:           strings.TrimSpace(key),
		Authorization: string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)),
	}
}

// GET /logs answers with a snapshot when a limit is given or JSON is requested
func wantsSnapshot(ctx *fasthttp.RequestCtx) bool {
	if ctx.QueryArgs().Has("limit") {
		return true
	}
	accept := string(ctx.Request.Header.Peek(fasthttp.HeaderAccept))
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream")
}

// Parses an integer query parameter; absent, malformed or non-positive values yield def
func intParam(ctx *fasthttp.RequestCtx, name string, def int) int {
	raw := ctx.QueryArgs().Peek(name)
	if len(raw) == 0 {
		return def
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
