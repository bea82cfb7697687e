package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/park285/xiangqi-server/internal/broadcast"
	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/metrics"
	"github.com/park285/xiangqi-server/internal/protocol"
	"github.com/park285/xiangqi-server/internal/session"
	"github.com/park285/xiangqi-server/internal/store"
)

type fakeClient struct {
	conn    int64
	uid     int64
	full    bool
	touched int
	lines   []string
}

func (c *fakeClient) Identity() int64 {
	if c.uid > 0 {
		return c.uid
	}
	return -c.conn
}
func (c *fakeClient) ConnID() int64     { return c.conn }
func (c *fakeClient) UserID() int64     { return c.uid }
func (c *fakeClient) Bind(userID int64) { c.uid = userID }
func (c *fakeClient) Unbind()           { c.uid = 0 }
func (c *fakeClient) Touch()            { c.touched++ }
func (c *fakeClient) Send(line []byte) bool {
	if c.full {
		return false
	}
	c.lines = append(c.lines, string(line))
	return true
}

type fakeRegistry struct{ clients []*fakeClient }

func (r *fakeRegistry) EachPeer(fn func(broadcast.Peer) bool) {
	for _, c := range r.clients {
		if !fn(c) {
			return
		}
	}
}

func (r *fakeRegistry) drop(c *fakeClient) {
	for i, x := range r.clients {
		if x == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return
		}
	}
}

type env struct {
	t     *testing.T
	h     *Dispatcher
	clock *clockwork.FakeClock
	mr    *miniredis.Miniredis
	reg   *fakeRegistry
	repo  store.Repository
	conns int64
	seq   int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	eng := match.NewEngine(match.WithClock(clk))
	lob := lobby.New(lobby.WithClock(clk))
	reg := &fakeRegistry{}
	repo := store.NewMemoryRepository()
	h := New(Deps{
		Engine:    eng,
		Lobby:     lob,
		Sessions:  session.NewStore(rdb, session.WithClock(clk)),
		Snapshots: match.NewStore(rdb),
		Repo:      repo,
		Router:    broadcast.New(reg, eng, lob),
		Metrics:   metrics.New(),
		Clock:     clk,
	})
	return &env{t: t, h: h, clock: clk, mr: mr, reg: reg, repo: repo}
}

type reply struct {
	Type    string         `json:"type"`
	Seq     int            `json:"seq"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
}

func (e *env) connect() *fakeClient {
	e.conns++
	c := &fakeClient{conn: e.conns}
	e.reg.clients = append(e.reg.clients, c)
	return c
}

// do dispatches one message and returns the response to it.
func (e *env) do(c *fakeClient, typ, token, payload string) reply {
	e.t.Helper()
	e.seq++
	line := fmt.Sprintf(`{"type":%q,"seq":%d,"token":%q,"payload":%s}`, typ, e.seq, token, payload)
	msg, err := protocol.Decode([]byte(line))
	if err != nil {
		e.t.Fatalf("decode %s: %v", line, err)
	}
	before := len(c.lines)
	e.h.Dispatch(context.Background(), c, msg)
	for _, l := range c.lines[before:] {
		var r reply
		if json.Unmarshal([]byte(l), &r) != nil {
			continue
		}
		if (r.Type == "response" || r.Type == "error") && r.Seq == e.seq {
			return r
		}
	}
	e.t.Fatalf("no response to %s", typ)
	return reply{}
}

func (e *env) expect(r reply, success bool, message string) {
	e.t.Helper()
	if r.Success != success || r.Message != message {
		e.t.Fatalf("got (%v, %q), want (%v, %q)", r.Success, r.Message, success, message)
	}
}

// events returns the payloads of every event of typ received by c.
func events(c *fakeClient, typ string) []map[string]any {
	var out []map[string]any
	for _, l := range c.lines {
		var r reply
		if json.Unmarshal([]byte(l), &r) == nil && r.Type == typ {
			out = append(out, r.Payload)
		}
	}
	return out
}

type player struct {
	c     *fakeClient
	token string
	id    int64
}

func (e *env) user(name string) player {
	e.t.Helper()
	c := e.connect()
	r := e.do(c, "register", "", fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":"secret1"}`, name, name))
	e.expect(r, true, "Registration successful")
	r = e.do(c, "login", "", fmt.Sprintf(`{"username":%q,"password":"secret1"}`, name))
	e.expect(r, true, "Login successful")
	return player{c: c, token: r.Payload["token"].(string), id: int64(r.Payload["user_id"].(float64))}
}

// pair queues a, then has b find a match. b is red.
func (e *env) pair(a, b player, rated bool) *match.Match {
	e.t.Helper()
	body := fmt.Sprintf(`{"rated":%v}`, rated)
	e.expect(e.do(a.c, "find_match", a.token, body), true, "Queued for match")
	r := e.do(b.c, "find_match", b.token, body)
	e.expect(r, true, "Match found")
	m, ok := e.h.Engine.GetActive(r.Payload["match_id"].(string))
	if !ok {
		e.t.Fatalf("match not resident")
	}
	return m
}

func moveBody(id string, fr, fc, tr, tc int) string {
	return fmt.Sprintf(`{"match_id":%q,"from_row":%d,"from_col":%d,"to_row":%d,"to_col":%d}`, id, fr, fc, tr, tc)
}

func (e *env) rating(id int64) int {
	e.t.Helper()
	u, err := e.repo.UserByID(context.Background(), id)
	if err != nil {
		e.t.Fatalf("user %d: %v", id, err)
	}
	return u.Rating
}
