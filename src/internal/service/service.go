// FILE: chatwisp/src/internal/service/service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatwisp/src/internal/auth"
	"chatwisp/src/internal/config"
	"chatwisp/src/internal/forward"
	"chatwisp/src/internal/hub"
	"chatwisp/src/internal/ingest"
	"chatwisp/src/internal/limit"
	"chatwisp/src/internal/server"
	"chatwisp/src/internal/store"
	ltls "chatwisp/src/internal/tls"
	"chatwisp/src/internal/version"

	"github.com/lixenwraith/log"
)

// Service owns the relay's components and their lifecycle
type Service struct {
	cfg    *config.Config
	logger *log.Logger

	Store     store.Store
	Hub       *hub.Hub
	Ingester  *ingest.Ingester
	Forwarder *forward.Dispatcher
	Auth      *auth.Authenticator
	Access    *limit.IPChecker
	Limiter   *limit.RateLimiter
	HTTP      *server.Server
	TCP       *ingest.TCPListener

	startTime    time.Time
	shutdownOnce sync.Once
}

// Builds every component from configuration. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Service, error) {
	s := &Service{
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	st, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.Store = st

	fwd, err := forward.New(cfg.Forward, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create forwarder: %w", err)
	}
	s.Forwarder = fwd

	s.Hub = hub.New(cfg.Stream, st, logger)

	ing, err := ingest.NewIngester(cfg.Ingest, st, s.Hub, fwd, logger)
	if err != nil {
		s.release(ctx)
		return nil, fmt.Errorf("failed to create ingester: %w", err)
	}
	if err := ing.Seed(ctx); err != nil {
		// An unreachable store at boot is not fatal, ids fall back to the clock
		logger.Warn("msg", "Could not seed ids from store",
			"component", "service",
			"backend", st.Name(),
			"error", err)
	}
	s.Ingester = ing

	tlsManager, err := ltls.NewServerManager(cfg.Server.TLS, logger)
	if err != nil {
		s.release(ctx)
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}

	s.Auth = auth.New(cfg.Ingest, cfg.Query, logger)
	s.Access = limit.NewIPChecker(&cfg.Server.Access, logger)
	s.Limiter = limit.NewRateLimiter(cfg.Server.RateLimit, logger)

	s.HTTP = server.New(cfg, server.Dependencies{
		Ingester: ing,
		Store:    st,
		Hub:      s.Hub,
		Auth:     s.Auth,
		Access:   s.Access,
		Limiter:  s.Limiter,
		TLS:      tlsManager,
		Status:   s.GetGlobalStats,
	}, logger)

	if cfg.TCP.Enabled {
		s.TCP = ingest.NewTCPListener(cfg.TCP, ing, s.Auth.WriteKeys(), s.Access, logger)
	}

	return s, nil
}

// Starts the network listeners
func (s *Service) Start() error {
	if err := s.HTTP.Start(); err != nil {
		return err
	}
	if s.TCP != nil {
		if err := s.TCP.Start(); err != nil {
			return fmt.Errorf("failed to start TCP listener: %w", err)
		}
	}

	s.logger.Info("msg", "Service started",
		"component", "service",
		"version", version.Short(),
		"store", s.Store.Name(),
		"http_port", s.cfg.Server.Port,
		"tcp_enabled", s.TCP != nil,
		"forward", s.cfg.Forward.Type)
	return nil
}

// Stops intake first, then viewers, then drains the forwarder and closes the store
func (s *Service) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.logger.Info("msg", "Service shutdown initiated", "component", "service")

		if s.TCP != nil {
			s.TCP.Stop()
		}
		s.HTTP.Stop(ctx)
		s.release(ctx)

		s.logger.Info("msg", "Service shutdown complete", "component", "service")
	})
}

func (s *Service) release(ctx context.Context) {
	if s.Hub != nil {
		s.Hub.Close()
	}
	s.Limiter.Stop()
	s.Forwarder.Stop(ctx)
	if err := s.Store.Close(); err != nil {
		s.logger.Error("msg", "Failed to close store",
			"component", "service",
			"backend", s.Store.Name(),
			"error", err)
	}
}

// Returns statistics for every component
func (s *Service) GetGlobalStats() map[string]any {
	stats := map[string]any{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"store":          s.Store.GetStats(),
		"hub":            s.Hub.GetStats(),
		"ingest":         s.Ingester.GetStats(),
		"forward":        s.Forwarder.GetStats(),
	}
	if s.TCP != nil {
		stats["tcp"] = s.TCP.GetStats()
	}
	return stats
}
