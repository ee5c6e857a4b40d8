// FILE: chatwisp/src/internal/server/server.go
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/auth"
	"chatwisp/src/internal/config"
	"chatwisp/src/internal/hub"
	"chatwisp/src/internal/ingest"
	"chatwisp/src/internal/limit"
	"chatwisp/src/internal/store"
	ltls "chatwisp/src/internal/tls"
	"chatwisp/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/valyala/fasthttp"
)

// Route paths
const (
	PathLogs        = "/logs"
	PathStream      = "/logs/stream"
	PathLast        = "/logs/last"
	PathErrors      = "/logs/errors"
	PathStatus      = "/status"
	PathLegacyRecv  = "/api/receive"
	PathLegacyLast  = "/api/last"
	allowedHeaders  = "Content-Type, Authorization, X-Log-Key, X-Log-View-Key, X-Log-Forward-Key, Last-Event-ID"
	retryAfterLimit = "1"

	defaultLivenessInterval = 15 * time.Second
)

// Methods accepted per path
var routes = map[string]string{
	PathLogs:       "GET, POST, OPTIONS",
	PathStream:     "GET, OPTIONS",
	PathLast:       "GET, OPTIONS",
	PathErrors:     "GET, OPTIONS",
	PathStatus:     "GET, OPTIONS",
	PathLegacyRecv: "GET, POST, OPTIONS",
	PathLegacyLast: "GET, OPTIONS",
}

// Supplies service-wide statistics for the status endpoint
type StatusFunc func() map[string]any

// Components the HTTP surface is wired to
type Dependencies struct {
	Ingester *ingest.Ingester
	Store    store.Store
	Hub      *hub.Hub
	Auth     *auth.Authenticator
	Access   *limit.IPChecker
	Limiter  *limit.RateLimiter
	TLS      *ltls.ServerManager
	Status   StatusFunc
}

// Server is the fasthttp front end for ingestion, queries and live streams
type Server struct {
	cfg    config.ServerConfig
	query  config.QueryConfig
	stream config.StreamConfig
	deps   Dependencies
	logger *log.Logger

	server    *fasthttp.Server
	listener  net.Listener
	tlsOn     atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startTime time.Time

	activeStreams  atomic.Int64
	totalRequests  atomic.Uint64
	totalIngested  atomic.Uint64
	totalRejected  atomic.Uint64
	authFailures   atomic.Uint64
	accessDenied   atomic.Uint64
	rateLimited    atomic.Uint64
	lastRequestErr atomic.Value // string
}

// Creates an HTTP server
func New(cfg *config.Config, deps Dependencies, logger *log.Logger) *Server {
	s := &Server{
		cfg:       cfg.Server,
		query:     cfg.Query,
		stream:    cfg.Stream,
		deps:      deps,
		logger:    logger,
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	s.lastRequestErr.Store("")

	s.server = &fasthttp.Server{
		Name:               version.UserAgent(),
		Handler:            s.requestHandler,
		DisableKeepalive:   false,
		MaxRequestBodySize: int(cfg.Server.MaxBodySize),
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		// Zero keeps long-lived streams open
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
		CloseOnShutdown: true,
		Logger:          compat.NewFastHTTPAdapter(logger),
	}
	return s
}

// Binds the configured address and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	tlsCfg := s.deps.TLS.GetHTTPConfig()
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.tlsOn.Store(tlsCfg != nil)

	s.logger.Info("msg", "HTTP server started",
		"component", "http_server",
		"host", s.cfg.Host,
		"port", s.cfg.Port,
		"tls_enabled", tlsCfg != nil)

	s.Serve(ln)
	return nil
}

// Serves on ln in the background until Stop
func (s *Server) Serve(ln net.Listener) {
	s.listener = ln
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("msg", "HTTP server failed",
				"component", "http_server",
				"error", err)
		}
	}()
}

// Returns the bound address, nil before Start or Serve
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ends open streams and shuts the listener down, bounded by ctx
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.logger.Info("msg", "Stopping HTTP server", "component", "http_server")

		// Stream writers observe done and send a final disconnect event
		close(s.done)

		if err := s.server.ShutdownWithContext(ctx); err != nil {
			s.logger.Warn("msg", "HTTP server shutdown incomplete",
				"component", "http_server",
				"error", err)
		}
		s.wg.Wait()

		s.logger.Info("msg", "HTTP server stopped",
			"component", "http_server",
			"total_requests", s.totalRequests.Load())
	})
}

func (s *Server) GetStats() map[string]any {
	lastErr, _ := s.lastRequestErr.Load().(string)
	return map[string]any{
		"host":           s.cfg.Host,
		"port":           s.cfg.Port,
		"active_streams": s.activeStreams.Load(),
		"total_requests": s.totalRequests.Load(),
		"total_ingested": s.totalIngested.Load(),
		"total_rejected": s.totalRejected.Load(),
		"auth_failures":  s.authFailures.Load(),
		"access_denied":  s.accessDenied.Load(),
		"rate_limited":   s.rateLimited.Load(),
		"last_error":     lastErr,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"tls_enabled":    s.tlsOn.Load(),
		"tls":            s.deps.TLS.GetStats(),
		"access":         s.deps.Access.GetStats(),
		"rate_limit":     s.deps.Limiter.GetStats(),
	}
}

func (s *Server) requestHandler(ctx *fasthttp.RequestCtx) {
	s.totalRequests.Add(1)
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")

	path := string(ctx.Path())
	allowed, known := routes[path]
	if !known {
		writeError(ctx, fasthttp.StatusNotFound, "Not Found")
		return
	}

	// Network access applies to every route but status
	if path != PathStatus && !s.deps.Access.IsAllowedIP(socketIP(ctx)) {
		s.accessDenied.Add(1)
		writeError(ctx, fasthttp.StatusForbidden, "Forbidden")
		return
	}

	method := string(ctx.Method())
	if method == fasthttp.MethodOptions {
		ctx.Response.Header.Set("Access-Control-Allow-Methods", allowed)
		ctx.Response.Header.Set("Access-Control-Allow-Headers", allowedHeaders)
		ctx.Response.Header.Set("Access-Control-Max-Age", "600")
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}

	switch {
	case path == PathStatus && method == fasthttp.MethodGet:
		s.handleStatus(ctx)

	case (path == PathLogs || path == PathLegacyRecv) && method == fasthttp.MethodPost:
		status := fasthttp.StatusCreated
		if path == PathLegacyRecv {
			status = fasthttp.StatusOK
		}
		s.handleIngest(ctx, status)

	case path == PathLogs && method == fasthttp.MethodGet:
		if wantsSnapshot(ctx) {
			s.handleQuery(ctx)
		} else {
			s.handleStream(ctx)
		}

	case path == PathStream && method == fasthttp.MethodGet:
		s.handleStream(ctx)

	case path == PathLegacyRecv && method == fasthttp.MethodGet:
		s.handleQuery(ctx)

	case (path == PathLast || path == PathLegacyLast) && method == fasthttp.MethodGet:
		s.handleLast(ctx)

	case path == PathErrors && method == fasthttp.MethodGet:
		s.handleErrors(ctx)

	default:
		ctx.Response.Header.Set("Allow", allowed)
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
	}
}
