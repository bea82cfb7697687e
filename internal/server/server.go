// Package server accepts client connections over TCP (and optionally
// WebSocket), feeds their lines to the handler dispatcher under a single
// coordinator lock, and runs the periodic sweeps.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/broadcast"
	"github.com/park285/xiangqi-server/internal/config"
	"github.com/park285/xiangqi-server/internal/handler"
	"github.com/park285/xiangqi-server/internal/metrics"
	"github.com/park285/xiangqi-server/internal/obslog"
)

type Option func(*Server)

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

type Server struct {
	cfg     *config.AppConfig
	clock   clockwork.Clock
	metrics *metrics.Metrics

	// hub serializes every handler, sweep and disconnect cleanup.
	hub        sync.Mutex
	dispatcher *handler.Dispatcher

	connMu sync.RWMutex
	conns  map[int64]*Conn
	nextID atomic.Int64

	lnMu      sync.Mutex
	listeners []net.Listener
	wsServer  *http.Server
	admin     *fasthttp.Server
	sched     gocron.Scheduler

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool
}

// New wires the dispatcher around deps. deps.Router is replaced by a router
// over this server's connections.
func New(cfg *config.AppConfig, deps handler.Deps, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		metrics: deps.Metrics,
		conns:   make(map[int64]*Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if deps.Clock == nil {
		deps.Clock = s.clock
	}
	deps.Router = broadcast.New(s, deps.Engine, deps.Lobby)
	s.dispatcher = handler.New(deps)
	return s
}

// EachPeer walks live connections under the registry read lock.
func (s *Server) EachPeer(fn func(broadcast.Peer) bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	for _, c := range s.conns {
		if !fn(c) {
			return
		}
	}
}

// ConnCount returns the number of registered connections.
func (s *Server) ConnCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}

// register admits nc unless the server is full or shutting down.
func (s *Server) register(nc net.Conn) (*Conn, bool) {
	if s.closing.Load() {
		return nil, false
	}
	s.connMu.Lock()
	if len(s.conns) >= s.cfg.MaxClients {
		s.connMu.Unlock()
		return nil, false
	}
	c := newConn(s, s.nextID.Add(1), nc)
	s.conns[c.id] = c
	n := len(s.conns)
	s.connMu.Unlock()
	s.metrics.SetConnections(n)
	return c, true
}

// release unregisters c and runs game-side cleanup under the hub lock.
func (s *Server) release(ctx context.Context, c *Conn) {
	c.Close()
	s.connMu.Lock()
	delete(s.conns, c.id)
	n := len(s.conns)
	s.connMu.Unlock()
	s.metrics.SetConnections(n)

	s.hub.Lock()
	s.dispatcher.Release(ctx, c)
	s.hub.Unlock()
	obslog.L().Info("conn_close",
		zap.Int64("conn_id", c.id),
		zap.Int64("user_id", c.UserID()),
		zap.Duration("lifetime", s.clock.Since(c.connectedAt)),
	)
}

// ServeConn runs nc to completion on the calling goroutine.
func (s *Server) ServeConn(nc net.Conn) {
	c, ok := s.register(nc)
	if !ok {
		obslog.L().Warn("conn_rejected", zap.String("remote", nc.RemoteAddr().String()), zap.Int("max_clients", s.cfg.MaxClients))
		_ = nc.Close()
		return
	}
	obslog.L().Info("conn_open", zap.Int64("conn_id", c.id), zap.String("remote", nc.RemoteAddr().String()))
	c.serve(s.ctx)
}

// Serve accepts on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.lnMu.Lock()
	s.listeners = append(s.listeners, ln)
	s.lnMu.Unlock()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(nc)
		}()
	}
}

// Start listens on the TCP port and the optional WebSocket and admin
// addresses, and starts the sweeps. Listen failures are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	obslog.L().Info("server_listen", zap.String("addr", ln.Addr().String()), zap.Int("max_clients", s.cfg.MaxClients))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(ln); err != nil {
			obslog.L().Error("server_accept", zap.Error(err))
		}
	}()

	if s.cfg.WSAddr != "" {
		if err := s.startWebSocket(s.cfg.WSAddr); err != nil {
			return err
		}
	}
	if s.cfg.AdminAddr != "" {
		if err := s.startAdmin(s.cfg.AdminAddr); err != nil {
			return err
		}
	}
	return s.startSweeps()
}

// Shutdown stops accepting, closes every connection and waits for their
// cleanup or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.lnMu.Lock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.lnMu.Unlock()
	if s.sched != nil {
		if err := s.sched.Shutdown(); err != nil {
			obslog.L().Warn("scheduler_shutdown", zap.Error(err))
		}
	}
	if s.wsServer != nil {
		_ = s.wsServer.Shutdown(ctx)
	}
	if s.admin != nil {
		_ = s.admin.ShutdownWithContext(ctx)
	}
	s.connMu.RLock()
	for _, c := range s.conns {
		c.Close()
	}
	s.connMu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
