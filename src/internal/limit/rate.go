// FILE: chatwisp/src/internal/limit/rate.go
package limit

import (
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	clients         sync.Map // map[string]*clientLimiter
	requestsPerSec  float64
	burstSize       int
	cleanupInterval time.Duration
	logger          *log.Logger
	done            chan struct{}
	stopOnce        sync.Once

	totalAllowed atomic.Uint64
	totalLimited atomic.Uint64
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Creates a rate limiter. Returns nil when limiting is disabled.
func NewRateLimiter(cfg config.RateLimitConfig, logger *log.Logger) *RateLimiter {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return nil
	}

	burst := int(cfg.BurstSize)
	if burst <= 0 {
		burst = 1
	}
	interval := time.Duration(cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	rl := &RateLimiter{
		requestsPerSec:  cfg.RequestsPerSecond,
		burstSize:       burst,
		cleanupInterval: interval,
		logger:          logger,
		done:            make(chan struct{}),
	}
	go rl.cleanup()

	logger.Info("msg", "Rate limiter initialized",
		"component", "rate_limiter",
		"requests_per_second", cfg.RequestsPerSecond,
		"burst_size", burst)
	return rl
}

// Reports whether a request from key may proceed. A nil limiter allows everything.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}

	if rl.getLimiter(key).Allow() {
		rl.totalAllowed.Add(1)
		return true
	}

	rl.totalLimited.Add(1)
	rl.logger.Debug("msg", "Request rate limited",
		"component", "rate_limiter",
		"client", key)
	return false
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now().UnixNano()
	if val, ok := rl.clients.Load(key); ok {
		client := val.(*clientLimiter)
		client.lastSeen.Store(now)
		return client.limiter
	}

	client := &clientLimiter{
		limiter: rate.NewLimiter(rate.Limit(rl.requestsPerSec), rl.burstSize),
	}
	client.lastSeen.Store(now)
	actual, _ := rl.clients.LoadOrStore(key, client)
	return actual.(*clientLimiter).limiter
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.removeOldClients(time.Now().Add(-2 * rl.cleanupInterval))
		}
	}
}

// Drops limiters not seen since threshold
func (rl *RateLimiter) removeOldClients(threshold time.Time) {
	cutoff := threshold.UnixNano()
	rl.clients.Range(func(key, value any) bool {
		if value.(*clientLimiter).lastSeen.Load() < cutoff {
			rl.clients.Delete(key)
		}
		return true
	})
}

// Stops the cleanup loop
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) GetStats() map[string]any {
	if rl == nil {
		return map[string]any{"enabled": false}
	}

	count := 0
	rl.clients.Range(func(_, _ any) bool {
		count++
		return true
	})
	return map[string]any{
		"enabled":             true,
		"requests_per_second": rl.requestsPerSec,
		"burst_size":          rl.burstSize,
		"tracked_clients":     count,
		"total_allowed":       rl.totalAllowed.Load(),
		"total_limited":       rl.totalLimited.Load(),
	}
}
