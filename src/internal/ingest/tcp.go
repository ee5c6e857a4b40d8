// FILE: chatwisp/src/internal/ingest/tcp.go
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"
	"chatwisp/src/internal/limit"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
)

const (
	tcpAuthTimeout   = 30 * time.Second
	tcpSubmitTimeout = 10 * time.Second
)

// KeyVerifier checks a presented write credential
type KeyVerifier interface {
	Enabled() bool
	Verify(key string) bool
}

// TCPListener accepts newline-delimited JSON submissions. When a write key
// is configured each connection must first send "AUTH <key>".
// Every submission line is answered with "OK <id>", "DROPPED" or "ERR <reason>".
type TCPListener struct {
	host         string
	port         int64
	maxLineBytes int
	authTimeout  time.Duration
	ingester     *Ingester
	keys         KeyVerifier
	access       *limit.IPChecker
	logger       *log.Logger

	server   *tcpServer
	engine   *gnet.Engine
	engineMu sync.Mutex
	wg       sync.WaitGroup

	// Statistics
	activeConns   atomic.Int64
	totalLines    atomic.Uint64
	invalidLines  atomic.Uint64
	authFailures  atomic.Uint64
	authTimeouts  atomic.Uint64
	authSuccesses atomic.Uint64
	startTime     time.Time
}

// Creates a TCP listener feeding ingester. keys and access may be nil.
func NewTCPListener(cfg config.TCPConfig, ingester *Ingester, keys KeyVerifier, access *limit.IPChecker, logger *log.Logger) *TCPListener {
	maxLine := int(cfg.MaxLineBytes)
	if maxLine <= 0 {
		maxLine = 1024 * 1024
	}
	authTimeout := time.Duration(cfg.AuthTimeoutMS) * time.Millisecond
	if authTimeout <= 0 {
		authTimeout = tcpAuthTimeout
	}
	return &TCPListener{
		host:         cfg.Host,
		port:         cfg.Port,
		maxLineBytes: maxLine,
		authTimeout:  authTimeout,
		ingester:     ingester,
		keys:         keys,
		access:       access,
		logger:       logger,
		startTime:    time.Now(),
	}
}

func (t *TCPListener) requiresAuth() bool {
	return t.keys != nil && t.keys.Enabled()
}

// Period of the sweep that closes connections which never authenticated
func (t *TCPListener) sweepInterval() time.Duration {
	interval := t.authTimeout / 4
	if interval < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	if interval > time.Second {
		return time.Second
	}
	return interval
}

func (t *TCPListener) Start() error {
	t.server = &tcpServer{
		listener: t,
		clients:  make(map[gnet.Conn]*tcpClient),
	}

	addr := fmt.Sprintf("tcp://%s:%d", t.host, t.port)
	gnetLogger := compat.NewGnetAdapter(t.logger)

	errChan := make(chan error, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("msg", "TCP ingest listener starting",
			"component", "tcp_ingest",
			"host", t.host,
			"port", t.port,
			"requires_auth", t.requiresAuth())

		err := gnet.Run(t.server, addr,
			gnet.WithLogger(gnetLogger),
			gnet.WithMulticore(true),
			gnet.WithReusePort(true),
			gnet.WithTicker(t.requiresAuth()),
		)
		if err != nil {
			t.logger.Error("msg", "TCP ingest listener failed",
				"component", "tcp_ingest",
				"port", t.port,
				"error", err)
		}
		errChan <- err
	}()

	select {
	case err := <-errChan:
		t.wg.Wait()
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (t *TCPListener) Stop() {
	t.engineMu.Lock()
	engine := t.engine
	t.engineMu.Unlock()

	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		(*engine).Stop(ctx)
	}

	t.wg.Wait()
	t.logger.Info("msg", "TCP ingest listener stopped",
		"component", "tcp_ingest")
}

func (t *TCPListener) GetStats() map[string]any {
	return map[string]any{
		"port":               t.port,
		"active_connections": t.activeConns.Load(),
		"total_lines":        t.totalLines.Load(),
		"invalid_lines":      t.invalidLines.Load(),
		"auth_failures":      t.authFailures.Load(),
		"auth_timeouts":      t.authTimeouts.Load(),
		"auth_successes":     t.authSuccesses.Load(),
		"uptime_seconds":     int(time.Since(t.startTime).Seconds()),
	}
}

type tcpClient struct {
	buffer bytes.Buffer
	// Read by the sweep outside the connection's event loop
	authenticated atomic.Bool
	closing       atomic.Bool
	authDeadline  time.Time
	remoteIP      string
}

func (c *tcpClient) authExpired(now time.Time) bool {
	return !c.authenticated.Load() && now.After(c.authDeadline)
}

type tcpServer struct {
	gnet.BuiltinEventEngine
	listener *TCPListener
	clients  map[gnet.Conn]*tcpClient
	mu       sync.RWMutex
}

func (s *tcpServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.listener.engineMu.Lock()
	s.listener.engine = &eng
	s.listener.engineMu.Unlock()

	s.listener.logger.Debug("msg", "TCP ingest listener booted",
		"component", "tcp_ingest",
		"port", s.listener.port)
	return gnet.None
}

func (s *tcpServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	t := s.listener
	remoteAddr := c.RemoteAddr()

	if !t.access.IsAllowed(remoteAddr) {
		t.logger.Warn("msg", "TCP connection denied by access list",
			"component", "tcp_ingest",
			"remote_addr", remoteAddr.String())
		return nil, gnet.Close
	}

	client := &tcpClient{remoteIP: hostOf(remoteAddr)}
	client.authenticated.Store(!t.requiresAuth())
	if t.requiresAuth() {
		client.authDeadline = time.Now().Add(t.authTimeout)
	}

	s.mu.Lock()
	s.clients[c] = client
	s.mu.Unlock()

	newCount := t.activeConns.Add(1)
	t.logger.Debug("msg", "TCP connection opened",
		"component", "tcp_ingest",
		"remote_addr", remoteAddr.String(),
		"active_connections", newCount)

	if t.requiresAuth() {
		return []byte("AUTH_REQUIRED\n"), gnet.None
	}
	return nil, gnet.None
}

func (s *tcpServer) OnClose(c gnet.Conn, err error) gnet.Action {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	newCount := s.listener.activeConns.Add(-1)
	s.listener.logger.Debug("msg", "TCP connection closed",
		"component", "tcp_ingest",
		"remote_addr", c.RemoteAddr().String(),
		"active_connections", newCount,
		"error", err)
	return gnet.None
}

func (s *tcpServer) OnTraffic(c gnet.Conn) gnet.Action {
	t := s.listener

	s.mu.RLock()
	client, exists := s.clients[c]
	s.mu.RUnlock()
	if !exists {
		return gnet.Close
	}

	data, err := c.Next(-1)
	if err != nil {
		t.logger.Error("msg", "Error reading from connection",
			"component", "tcp_ingest",
			"error", err)
		return gnet.Close
	}
	client.buffer.Write(data)

	if client.buffer.Len() > t.maxLineBytes && bytes.IndexByte(client.buffer.Bytes(), '\n') < 0 {
		t.invalidLines.Add(1)
		t.logger.Warn("msg", "Line too long without newline",
			"component", "tcp_ingest",
			"remote_addr", c.RemoteAddr().String(),
			"buffer_size", client.buffer.Len())
		c.Write([]byte("ERR line too long\n"))
		return gnet.Close
	}

	for {
		line, err := client.buffer.ReadBytes('\n')
		if err != nil {
			// Keep the partial line for the next read
			client.buffer.Reset()
			client.buffer.Write(line)
			break
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}

		if !client.authenticated.Load() {
			if action := s.authenticate(c, client, line); action != gnet.None {
				return action
			}
			continue
		}

		s.submit(c, client, line)
	}

	if client.authExpired(time.Now()) {
		t.authTimeouts.Add(1)
		t.logger.Warn("msg", "Authentication timeout",
			"component", "tcp_ingest",
			"remote_addr", c.RemoteAddr().String())
		return gnet.Close
	}
	return gnet.None
}

// Closes connections that stayed silent past their AUTH deadline
func (s *tcpServer) OnTick() (time.Duration, gnet.Action) {
	t := s.listener
	now := time.Now()

	var expired []gnet.Conn
	s.mu.RLock()
	for c, client := range s.clients {
		if client.authExpired(now) && client.closing.CompareAndSwap(false, true) {
			expired = append(expired, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range expired {
		t.authTimeouts.Add(1)
		t.logger.Warn("msg", "Authentication timeout",
			"component", "tcp_ingest",
			"remote_addr", c.RemoteAddr().String())
		c.AsyncWrite([]byte("AUTH_TIMEOUT\n"), nil)
		c.CloseWithCallback(nil)
	}
	return t.sweepInterval(), gnet.None
}

func (s *tcpServer) authenticate(c gnet.Conn, client *tcpClient, line []byte) gnet.Action {
	t := s.listener

	cmd, key, _ := strings.Cut(string(line), " ")
	if cmd != "AUTH" || !t.keys.Verify(key) {
		t.authFailures.Add(1)
		t.ingester.Reject(context.Background(), "unauthorized",
			RequestMeta{RemoteIP: client.remoteIP}, "tcp handshake failed", nil)
		c.Write([]byte("AUTH_FAIL\n"))
		return gnet.Close
	}

	t.authSuccesses.Add(1)
	client.authenticated.Store(true)
	t.logger.Info("msg", "TCP client authenticated",
		"component", "tcp_ingest",
		"remote_addr", c.RemoteAddr().String())
	c.Write([]byte("AUTH_OK\n"))
	return gnet.None
}

func (s *tcpServer) submit(c gnet.Conn, client *tcpClient, line []byte) {
	t := s.listener
	t.totalLines.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), tcpSubmitTimeout)
	defer cancel()

	body := append([]byte(nil), line...)
	res, err := t.ingester.Submit(ctx, Submission{
		Body: body,
		Meta: RequestMeta{RemoteIP: client.remoteIP},
	})

	var reply string
	switch {
	case err != nil && core.IsValidation(err):
		t.invalidLines.Add(1)
		reply = "ERR " + err.Error() + "\n"
	case err != nil:
		reply = "ERR internal error\n"
	case res.Dropped:
		reply = "DROPPED\n"
	default:
		reply = "OK " + res.Entry.ID + "\n"
	}
	c.Write([]byte(reply))
}

// Returns the IP part of an address, or the whole string when it has no port
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
