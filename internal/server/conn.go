package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Conn is one client connection. Reads happen on the goroutine running
// serve; writes are queued on out and flushed by writeLoop.
type Conn struct {
	id      int64
	nc      net.Conn
	srv     *Server
	out     chan []byte
	limiter *rate.Limiter

	userID        atomic.Int64
	lastHeartbeat atomic.Int64 // unix nanos
	connectedAt   time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(s *Server, id int64, nc net.Conn) *Conn {
	now := s.clock.Now()
	c := &Conn{
		id:          id,
		nc:          nc,
		srv:         s,
		out:         make(chan []byte, s.cfg.SendQueueSize),
		limiter:     rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitBurst),
		connectedAt: now,
		done:        make(chan struct{}),
	}
	c.lastHeartbeat.Store(now.UnixNano())
	return c
}

func (c *Conn) ConnID() int64 { return c.id }
func (c *Conn) UserID() int64 { return c.userID.Load() }

// Identity is the bound user id, or the negated connection id while anonymous.
func (c *Conn) Identity() int64 {
	if uid := c.userID.Load(); uid > 0 {
		return uid
	}
	return -c.id
}

func (c *Conn) Bind(userID int64) { c.userID.Store(userID) }
func (c *Conn) Unbind()           { c.userID.Store(0) }
func (c *Conn) Touch()            { c.lastHeartbeat.Store(c.srv.clock.Now().UnixNano()) }

// LastHeartbeat reports the last heartbeat or ping.
func (c *Conn) LastHeartbeat() time.Time { return time.Unix(0, c.lastHeartbeat.Load()) }

// Send queues line without blocking. A full queue marks the client as a slow
// consumer and closes it.
func (c *Conn) Send(line []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- line:
		return true
	default:
		obslog.L().Warn("conn_slow_consumer", zap.Int64("conn_id", c.id), zap.Int64("user_id", c.UserID()))
		c.Close()
		return false
	}
}

// Close is safe to call from any goroutine, including under the hub lock.
// Registry removal and game cleanup run on the reader goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.nc.Close()
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.nc.Write(line); err != nil {
				obslog.L().Debug("conn_write", zap.Int64("conn_id", c.id), zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// serve reads lines until the connection fails, then runs cleanup.
func (c *Conn) serve(ctx context.Context) {
	defer c.srv.release(ctx, c)
	go c.writeLoop()

	sc := bufio.NewScanner(c.nc)
	// the cap of the initial buffer also counts as a limit
	sc.Buffer(make([]byte, 0, min(4096, c.srv.cfg.MaxMessageSize)), c.srv.cfg.MaxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(ctx, line)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			obslog.L().Warn("conn_message_too_large", zap.Int64("conn_id", c.id), zap.Int("limit", c.srv.cfg.MaxMessageSize))
		} else if !errors.Is(err, net.ErrClosed) {
			obslog.L().Debug("conn_read", zap.Int64("conn_id", c.id), zap.Error(err))
		}
	}
}

func (c *Conn) handleLine(ctx context.Context, line []byte) {
	msg, err := protocol.Decode(line)
	if err != nil {
		obslog.L().Debug("conn_parse_error", zap.Int64("conn_id", c.id), zap.Error(err))
		c.Send(protocol.EncodeParseError())
		return
	}
	if !c.limiter.Allow() {
		c.srv.metrics.RateLimited()
		c.Send(protocol.EncodeError(msg.Seq, protocol.CodeRateLimited, c.srv.dispatcher.Catalog.Text("common.rate_limited")))
		return
	}
	c.srv.hub.Lock()
	defer c.srv.hub.Unlock()
	c.srv.dispatcher.Dispatch(ctx, c, msg)
}
