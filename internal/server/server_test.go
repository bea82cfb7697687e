package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/park285/xiangqi-server/internal/config"
	"github.com/park285/xiangqi-server/internal/handler"
	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/metrics"
	"github.com/park285/xiangqi-server/internal/session"
	"github.com/park285/xiangqi-server/internal/store"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		MaxClients:     8,
		MaxMessageSize: 1024,
		SendQueueSize:  64,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		TimeoutSweep:   time.Second,
		CleanupSweep:   time.Minute,
		SessionTTL:     time.Hour,
		PersistTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.AppConfig) *Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(cfg, handler.Deps{
		Engine:    match.NewEngine(),
		Lobby:     lobby.New(),
		Sessions:  session.NewStore(rdb),
		Snapshots: match.NewStore(rdb),
		Repo:      store.NewMemoryRepository(),
		Metrics:   metrics.New(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		_ = rdb.Close()
		mr.Close()
	})
	return s
}

type client struct {
	t   *testing.T
	nc  net.Conn
	rd  *bufio.Reader
	seq int
}

type line struct {
	Type    string         `json:"type"`
	Seq     int            `json:"seq"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	srvSide, cliSide := net.Pipe()
	go s.ServeConn(srvSide)
	t.Cleanup(func() { _ = cliSide.Close() })
	return &client{t: t, nc: cliSide, rd: bufio.NewReader(cliSide)}
}

func (c *client) write(raw string) {
	c.t.Helper()
	_ = c.nc.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.nc.Write([]byte(raw + "\n")); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() (line, error) {
	_ = c.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := c.rd.ReadBytes('\n')
	if err != nil {
		return line{}, err
	}
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return line{}, fmt.Errorf("decode %q: %w", raw, err)
	}
	return l, nil
}

// send writes one request and returns the reply carrying its seq, skipping events.
func (c *client) send(typ, token, payload string) line {
	c.t.Helper()
	c.seq++
	c.write(fmt.Sprintf(`{"type":%q,"seq":%d,"token":%q,"payload":%s}`, typ, c.seq, token, payload))
	for {
		l, err := c.read()
		if err != nil {
			c.t.Fatalf("read reply to %s: %v", typ, err)
		}
		if (l.Type == "response" || l.Type == "error") && l.Seq == c.seq {
			return l
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	s := newTestServer(t, testConfig())
	c := dial(t, s)

	r := c.send("heartbeat", "", `{}`)
	if !r.Success || r.Message != "pong" {
		t.Fatalf("heartbeat reply = %+v", r)
	}
	if got := s.ConnCount(); got != 1 {
		t.Fatalf("ConnCount = %d, want 1", got)
	}
}

func TestParseErrorKeepsConnection(t *testing.T) {
	s := newTestServer(t, testConfig())
	c := dial(t, s)

	c.write(`not json`)
	l, err := c.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if l.Type != "error" || l.Payload["error_code"] != "PARSE_ERROR" {
		t.Fatalf("parse error reply = %+v", l)
	}
	if r := c.send("ping", "", `{}`); !r.Success {
		t.Fatalf("connection unusable after parse error: %+v", r)
	}
}

func TestUnknownType(t *testing.T) {
	s := newTestServer(t, testConfig())
	c := dial(t, s)

	r := c.send("teleport", "", `{}`)
	if r.Success || r.Message != "Unknown message type" {
		t.Fatalf("reply = %+v", r)
	}
}

func TestRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s := newTestServer(t, cfg)
	c := dial(t, s)

	if r := c.send("ping", "", `{}`); !r.Success {
		t.Fatalf("first ping = %+v", r)
	}
	r := c.send("ping", "", `{}`)
	if r.Success || r.Payload["error_code"] != "RATE_LIMITED" {
		t.Fatalf("second ping = %+v", r)
	}
}

func TestMaxClientsRejects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClients = 1
	s := newTestServer(t, cfg)
	first := dial(t, s)
	first.send("ping", "", `{}`)

	second := dial(t, s)
	if _, err := second.read(); err == nil {
		t.Fatalf("second connection should be closed")
	}
	if got := s.ConnCount(); got != 1 {
		t.Fatalf("ConnCount = %d, want 1", got)
	}
}

func TestOversizedLineDisconnects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 64
	s := newTestServer(t, cfg)
	c := dial(t, s)
	c.send("ping", "", `{}`)

	go func() {
		_, _ = c.nc.Write([]byte(`{"type":"ping","payload":{"pad":"` + strings.Repeat("x", 256) + `"}}` + "\n"))
	}()
	waitFor(t, "disconnect", func() bool { return s.ConnCount() == 0 })
}

func TestDisconnectReleasesLobbyState(t *testing.T) {
	s := newTestServer(t, testConfig())
	c := dial(t, s)

	c.send("register", "", `{"username":"alice","email":"alice@example.com","password":"secret1"}`)
	r := c.send("login", "", `{"username":"alice","password":"secret1"}`)
	if !r.Success {
		t.Fatalf("login = %+v", r)
	}
	token := r.Payload["token"].(string)
	if r := c.send("set_ready", token, `{"ready":true}`); !r.Success {
		t.Fatalf("set_ready = %+v", r)
	}
	if r := c.send("create_room", token, `{}`); !r.Success {
		t.Fatalf("create_room = %+v", r)
	}
	if st := s.Snapshot(); st.ReadyPlayers != 1 || st.Rooms != 1 {
		t.Fatalf("before close: %+v", st)
	}

	_ = c.nc.Close()
	waitFor(t, "cleanup", func() bool {
		st := s.Snapshot()
		return st.Connections == 0 && st.ReadyPlayers == 0 && st.Rooms == 0
	})
}

func TestBroadcastReachesOtherConnections(t *testing.T) {
	s := newTestServer(t, testConfig())
	watcher := dial(t, s)
	watcher.send("ping", "", `{}`)

	host := dial(t, s)
	host.send("register", "", `{"username":"bob","email":"bob@example.com","password":"secret1"}`)
	r := host.send("login", "", `{"username":"bob","password":"secret1"}`)
	host.send("create_room", r.Payload["token"].(string), `{}`)

	for {
		l, err := watcher.read()
		if err != nil {
			t.Fatalf("watcher read: %v", err)
		}
		if l.Type == "rooms_update" {
			rooms, _ := l.Payload["rooms"].([]any)
			if len(rooms) != 1 {
				t.Fatalf("rooms_update = %+v", l.Payload)
			}
			return
		}
	}
}

func adminGet(h fasthttp.RequestHandler, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(path)
	h(ctx)
	return ctx
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())
	c := dial(t, s)
	c.send("ping", "", `{}`)
	h := s.adminHandler()

	if body := string(adminGet(h, "/healthz").Response.Body()); body != "ok" {
		t.Fatalf("/healthz = %q", body)
	}

	var st Stats
	if err := json.Unmarshal(adminGet(h, "/stats").Response.Body(), &st); err != nil {
		t.Fatalf("/stats: %v", err)
	}
	if st.Connections != 1 {
		t.Fatalf("stats = %+v", st)
	}

	if !strings.Contains(string(adminGet(h, "/metrics").Response.Body()), "xiangqi_connections") {
		t.Fatalf("/metrics missing connections gauge")
	}
	if code := adminGet(h, "/nope").Response.StatusCode(); code != fasthttp.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	s := newTestServer(t, testConfig())
	c := dial(t, s)
	c.send("ping", "", `{}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitFor(t, "close", func() bool { return s.ConnCount() == 0 })
	if _, err := c.read(); err == nil {
		t.Fatalf("connection still open after shutdown")
	}
}
