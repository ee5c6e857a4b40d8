// FILE: chatwisp/src/internal/server/handlers.go
package server

import (
	"time"

	"chatwisp/src/internal/core"
	"chatwisp/src/internal/filter"
	"chatwisp/src/internal/ingest"
	"chatwisp/src/internal/store"
	"chatwisp/src/internal/version"

	"github.com/valyala/fasthttp"
)

func (s *Server) handleIngest(ctx *fasthttp.RequestCtx, successStatus int) {
	meta := requestMeta(ctx)

	if !s.deps.Limiter.Allow(socketIP(ctx)) {
		s.rateLimited.Add(1)
		ctx.Response.Header.Set("Retry-After", retryAfterLimit)
		writeError(ctx, fasthttp.StatusTooManyRequests, "Too many requests")
		return
	}

	if err := s.deps.Auth.AuthorizeWrite(writeCredentials(ctx)); err != nil {
		s.authFailures.Add(1)
		s.deps.Ingester.Reject(ctx, "unauthorized", meta, err.Error(), nil)
		writeError(ctx, fasthttp.StatusUnauthorized, "Missing or invalid write key")
		return
	}

	result, err := s.deps.Ingester.Submit(ctx, ingest.Submission{
		Body:        ctx.PostBody(),
		ContentType: string(ctx.Request.Header.ContentType()),
		Meta:        meta,
	})
	if err != nil {
		s.totalRejected.Add(1)
		s.lastRequestErr.Store(err.Error())
		status := statusFor(err)
		message := err.Error()
		if status == fasthttp.StatusInternalServerError {
			message = "Internal server error"
		}
		writeError(ctx, status, message)
		return
	}

	if result.Dropped {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"ok":         true,
			"dropped":    true,
			"request_id": meta.RequestID,
		})
		return
	}

	s.totalIngested.Add(1)
	writeJSON(ctx, successStatus, map[string]any{
		"ok":         true,
		"id":         result.Entry.ID,
		"request_id": meta.RequestID,
	})
}

// Authorizes a read, writing the 401 response on failure
func (s *Server) authorizeRead(ctx *fasthttp.RequestCtx) bool {
	if err := s.deps.Auth.AuthorizeRead(readCredentials(ctx)); err != nil {
		s.authFailures.Add(1)
		s.logger.Warn("msg", "Read authorization failed",
			"component", "http_server",
			"path", string(ctx.Path()),
			"remote_addr", clientIP(ctx),
			"error", err)
		writeError(ctx, fasthttp.StatusUnauthorized, "Missing or invalid view key")
		return false
	}
	return true
}

// Compiles the optional filter parameter, writing the 400 response on failure
func (s *Server) filterParam(ctx *fasthttp.RequestCtx) (*filter.Expr, bool) {
	expr, err := filter.CompileExpr(string(ctx.QueryArgs().Peek("filter")))
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
		return nil, false
	}
	return expr, true
}

func (s *Server) queryLimit(ctx *fasthttp.RequestCtx) int {
	n := intParam(ctx, "limit", int(s.query.DefaultLimit))
	if max := int(s.query.MaxLimit); max > 0 && n > max {
		n = max
	}
	return n
}

func (s *Server) handleQuery(ctx *fasthttp.RequestCtx) {
	if !s.authorizeRead(ctx) {
		return
	}
	expr, ok := s.filterParam(ctx)
	if !ok {
		return
	}

	limit := s.queryLimit(ctx)
	fetch := limit
	if expr.String() != "" {
		// Filter over the widest window, then trim
		fetch = int(s.query.MaxLimit)
	}

	entries, err := s.deps.Store.List(ctx, fetch)
	if err != nil {
		s.lastRequestErr.Store(err.Error())
		s.logger.Error("msg", "Snapshot query failed",
			"component", "http_server",
			"backend", s.deps.Store.Name(),
			"error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "Internal server error")
		return
	}

	if expr.String() != "" {
		matched := make([]core.LogEntry, 0, len(entries))
		for _, e := range entries {
			if expr.Match(e) {
				matched = append(matched, e)
			}
		}
		entries = matched
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []core.LogEntry{}
	}

	writeJSON(ctx, fasthttp.StatusOK, entries)
}

func (s *Server) handleLast(ctx *fasthttp.RequestCtx) {
	if !s.authorizeRead(ctx) {
		return
	}

	last, err := store.Last(ctx, s.deps.Store)
	if err != nil {
		s.lastRequestErr.Store(err.Error())
		s.logger.Error("msg", "Last entry query failed",
			"component", "http_server",
			"backend", s.deps.Store.Name(),
			"error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "Internal server error")
		return
	}

	// A nil pointer encodes as null
	writeJSON(ctx, fasthttp.StatusOK, last)
}

func (s *Server) handleErrors(ctx *fasthttp.RequestCtx) {
	if !s.authorizeRead(ctx) {
		return
	}

	records, err := s.deps.Ingester.Errors(ctx, s.queryLimit(ctx))
	if err != nil {
		s.logger.Error("msg", "Error journal query failed",
			"component", "http_server",
			"error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "Internal server error")
		return
	}
	if records == nil {
		records = []core.ErrorRecord{}
	}
	writeJSON(ctx, fasthttp.StatusOK, records)
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	status := map[string]any{
		"service":        "ChatWisp",
		"version":        version.Short(),
		"time":           time.Now().UTC(),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"server":         s.GetStats(),
		"endpoints": map[string]string{
			"ingest": PathLogs,
			"stream": PathStream,
			"last":   PathLast,
			"errors": PathErrors,
			"status": PathStatus,
		},
		"features": map[string]any{
			"heartbeat": map[string]any{
				"enabled":          s.stream.Heartbeat.Enabled,
				"interval_seconds": s.stream.Heartbeat.IntervalSeconds,
			},
			"auth": s.deps.Auth.GetStats(),
		},
	}
	if s.deps.Status != nil {
		status["statistics"] = s.deps.Status()
	}

	writeJSON(ctx, fasthttp.StatusOK, status)
}
