// FILE: chatwisp/src/cmd/chatwisp/status.go
package main

import (
	"context"
	"time"

	"chatwisp/src/internal/service"
)

const statusInterval = 30 * time.Second

// Periodically logs service status
func statusReporter(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("msg", "Panic in status reporter",
							"component", "status_reporter",
							"panic", r)
					}
				}()
				logger.Debug(statusFields(svc.GetGlobalStats())...)
			}()
		}
	}
}

// Flattens the global stats into a single log line
func statusFields(stats map[string]any) []any {
	fields := []any{
		"msg", "Status report",
		"component", "status_reporter",
	}

	if uptime, ok := stats["uptime_seconds"].(int); ok {
		fields = append(fields, "uptime_seconds", uptime)
	}
	if ingest, ok := stats["ingest"].(map[string]any); ok {
		fields = append(fields,
			"accepted", ingest["total_accepted"],
			"rejected", ingest["total_rejected"],
			"dropped", ingest["total_dropped"])
	}
	if hub, ok := stats["hub"].(map[string]any); ok {
		fields = append(fields, "viewers", hub["active_subscribers"])
	}
	if fwd, ok := stats["forward"].(map[string]any); ok {
		if enabled, _ := fwd["enabled"].(bool); enabled {
			fields = append(fields,
				"forwarded", fwd["total_sent"],
				"forward_failed", fwd["total_failed"])
		}
	}
	if st, ok := stats["store"].(map[string]any); ok {
		fields = append(fields, "store", st["backend"])
	}
	return fields
}
