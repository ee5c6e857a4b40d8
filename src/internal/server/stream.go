// FILE: chatwisp/src/internal/server/stream.go
package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"chatwisp/src/internal/core"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

func (s *Server) handleStream(ctx *fasthttp.RequestCtx) {
	if !s.authorizeRead(ctx) {
		return
	}
	expr, ok := s.filterParam(ctx)
	if !ok {
		return
	}

	replay := -1
	if ctx.QueryArgs().Has("replay") {
		replay = intParam(ctx, "replay", 0)
		if max := int(s.stream.ReplayLimit); replay > max {
			replay = max
		}
	}

	sub, err := s.deps.Hub.Subscribe(ctx, replay, expr)
	if err != nil {
		s.logger.Error("msg", "Stream subscription failed",
			"component", "http_server",
			"remote_addr", clientIP(ctx),
			"error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "Internal server error")
		return
	}

	// Reconnecting clients skip what they already have
	lastEventID := string(ctx.Request.Header.Peek("Last-Event-ID"))

	remoteAddr := clientIP(ctx)
	connID := uuid.NewString()

	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		active := s.activeStreams.Add(1)
		s.wg.Add(1)
		s.logger.Debug("msg", "Stream client connected",
			"component", "http_server",
			"remote_addr", remoteAddr,
			"client_id", connID,
			"subscriber_id", sub.ID,
			"active_streams", active)

		defer func() {
			sub.Close()
			remaining := s.activeStreams.Add(-1)
			s.logger.Debug("msg", "Stream client disconnected",
				"component", "http_server",
				"remote_addr", remoteAddr,
				"client_id", connID,
				"active_streams", remaining)
			s.wg.Done()
		}()

		info := map[string]any{
			"client_id": connID,
			"replay":    len(sub.Replay),
			"filter":    expr.String(),
			"heartbeat": s.heartbeatInterval().Seconds(),
		}
		data, _ := json.Marshal(info)
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", data)

		// Replay goes out as one batch
		for _, entry := range sub.Replay {
			if lastEventID != "" && entry.ID <= lastEventID {
				continue
			}
			if err := writeEvent(w, entry); err != nil {
				s.logger.Error("msg", "Failed to encode entry",
					"component", "http_server",
					"entry_id", entry.ID,
					"error", err)
			}
		}
		if err := w.Flush(); err != nil {
			return
		}

		// The tick write is what detects a viewer that left while idle
		ticker := time.NewTicker(s.livenessInterval())
		defer ticker.Stop()

		for {
			select {
			case entry, ok := <-sub.Events:
				if !ok {
					// Removed by the hub: buffer overflow or hub shutdown
					reason := "overflow"
					if s.isStopping() {
						reason = "server_shutdown"
					}
					fmt.Fprintf(w, "event: disconnect\ndata: {\"reason\":%q}\n\n", reason)
					w.Flush()
					return
				}
				if !sub.Accept(entry) {
					continue
				}
				if err := writeEvent(w, entry); err != nil {
					continue
				}
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-ticker.C:
				switch {
				case !s.stream.Heartbeat.Enabled:
					fmt.Fprint(w, ":\n\n")
				case s.stream.Heartbeat.IncludeTimestamp:
					fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339))
				default:
					fmt.Fprint(w, ": heartbeat\n\n")
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-s.done:
				fmt.Fprint(w, "event: disconnect\ndata: {\"reason\":\"server_shutdown\"}\n\n")
				w.Flush()
				return
			}
		}
	})
}

// Advertised heartbeat period, zero when heartbeat comments are off
func (s *Server) heartbeatInterval() time.Duration {
	if !s.stream.Heartbeat.Enabled {
		return 0
	}
	return s.livenessInterval()
}

// Period of the liveness write, which runs whether or not heartbeat comments are enabled
func (s *Server) livenessInterval() time.Duration {
	if s.stream.Heartbeat.IntervalSeconds < 1 {
		return defaultLivenessInterval
	}
	return time.Duration(s.stream.Heartbeat.IntervalSeconds) * time.Second
}

func (s *Server) isStopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Writes one entry as an SSE event carrying its id
func writeEvent(w *bufio.Writer, entry core.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", entry.ID, data)
	return err
}
