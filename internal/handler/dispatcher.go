// Package handler implements the request handlers of the game protocol.
//
// Every exported entry point (Dispatch, Release, ProcessTimeouts, Cleanup)
// must be called with the server's coordinator lock held. The engine and the
// lobby carry no locks of their own.
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/broadcast"
	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/metrics"
	"github.com/park285/xiangqi-server/internal/msgcat"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
	"github.com/park285/xiangqi-server/internal/rating"
	"github.com/park285/xiangqi-server/internal/session"
	"github.com/park285/xiangqi-server/internal/store"
)

const (
	ChatMaxLen          = 500
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	DefaultBoardLimit   = 10
	EndedMatchRetention = 10 * time.Minute
)

// Client is the connection a request arrived on.
type Client interface {
	broadcast.Peer
	ConnID() int64
	UserID() int64
	Bind(userID int64)
	Unbind()
	Touch()
}

// Sessions is the slice of the session store the handlers use.
type Sessions interface {
	Create(ctx context.Context, userID int64) (string, error)
	Validate(ctx context.Context, token string) (int64, error)
	Destroy(ctx context.Context, token string) error
	CleanupExpired(ctx context.Context) (int, error)
}

// Deps wires a Dispatcher. Snapshots and Metrics may be nil.
type Deps struct {
	Engine    *match.Engine
	Lobby     *lobby.Lobby
	Sessions  Sessions
	Snapshots match.Persister
	Repo      store.Repository
	Router    *broadcast.Router
	Catalog   *msgcat.Catalog
	Metrics   *metrics.Metrics
	Clock     clockwork.Clock

	TimePerPlayerMs int
	RatedTolerance  int
	PersistTimeout  time.Duration
}

type handlerFunc func(ctx context.Context, c Client, msg *protocol.Message)

type Dispatcher struct {
	Deps
	handlers map[string]handlerFunc
}

func New(d Deps) *Dispatcher {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	if d.TimePerPlayerMs <= 0 {
		d.TimePerPlayerMs = match.DefaultTimeMs
	}
	if d.RatedTolerance <= 0 {
		d.RatedTolerance = lobby.DefaultTolerance
	}
	if d.PersistTimeout <= 0 {
		d.PersistTimeout = 3 * time.Second
	}
	h := &Dispatcher{Deps: d}
	h.handlers = map[string]handlerFunc{
		"register":       h.register,
		"login":          h.login,
		"logout":         h.logout,
		"validate_token": h.validateToken,

		"set_ready":  h.setReady,
		"find_match": h.findMatch,

		"move":          h.move,
		"resign":        h.resign,
		"draw_offer":    h.drawOffer,
		"draw_response": h.drawResponse,
		"game_over":     h.gameOver,
		"join_match":    h.joinMatch,
		"get_match":     h.getMatch,
		"get_timer":     h.getTimer,

		"create_room":     h.createRoom,
		"join_room":       h.joinRoom,
		"leave_room":      h.leaveRoom,
		"get_rooms":       h.getRooms,
		"start_room_game": h.startRoomGame,

		"challenge":          h.challenge,
		"challenge_response": h.challengeResponse,
		"chat_message":       h.chatMessage,

		"join_spectate":  h.joinSpectate,
		"leave_spectate": h.leaveSpectate,

		"rematch_request":  h.rematchRequest,
		"rematch_response": h.rematchResponse,

		"match_history":    h.matchHistory,
		"get_live_matches": h.liveMatches,
		"get_profile":      h.profile,
		"leaderboard":      h.leaderboard,

		"heartbeat": h.heartbeat,
		"ping":      h.heartbeat,
	}
	return h
}

// Dispatch routes one decoded message to its handler.
func (h *Dispatcher) Dispatch(ctx context.Context, c Client, msg *protocol.Message) {
	start := h.Clock.Now()
	fn, ok := h.handlers[msg.Type]
	if !ok {
		obslog.L().Debug("unknown_type", zap.Int64("conn_id", c.ConnID()), zap.String("type", msg.Type))
		h.fail(c, msg, "common.unknown_type")
	} else {
		fn(ctx, c, msg)
	}
	h.Metrics.Observe(msg.Type, ok, h.Clock.Since(start))
}

// Types lists the registered message types.
func (h *Dispatcher) Types() []string {
	out := make([]string, 0, len(h.handlers))
	for k := range h.handlers {
		out = append(out, k)
	}
	return out
}

func (h *Dispatcher) ok(c Client, msg *protocol.Message, key string, payload any) {
	c.Send(protocol.EncodeResponse(msg.Seq, true, h.Catalog.Text(key), payload))
}

func (h *Dispatcher) fail(c Client, msg *protocol.Message, key string) {
	c.Send(protocol.EncodeResponse(msg.Seq, false, h.Catalog.Text(key), nil))
}

func (h *Dispatcher) failWith(c Client, msg *protocol.Message, key string, payload any) {
	c.Send(protocol.EncodeResponse(msg.Seq, false, h.Catalog.Text(key), payload))
}

func (h *Dispatcher) event(typ string, payload any) []byte {
	return protocol.EncodeEvent(typ, payload)
}

// authenticate validates the envelope token and binds the connection to its
// user. On failure it replies and returns false.
func (h *Dispatcher) authenticate(ctx context.Context, c Client, msg *protocol.Message) (int64, bool) {
	if msg.Token == "" {
		h.fail(c, msg, "common.invalid_token")
		return 0, false
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	uid, err := h.Sessions.Validate(pctx, msg.Token)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
			obslog.L().Warn("session_validate", zap.Int64("conn_id", c.ConnID()), zap.Error(err))
		}
		h.fail(c, msg, "common.invalid_token")
		return 0, false
	}
	h.bind(c, uid)
	return uid, true
}

// bind attaches the connection to userID and carries over any spectator
// seats it took while anonymous.
func (h *Dispatcher) bind(c Client, userID int64) {
	if c.UserID() == userID {
		return
	}
	anon := -c.ConnID()
	c.Bind(userID)
	if n := h.Engine.RekeySpectator(anon, userID); n > 0 {
		obslog.L().Debug("spectate_rekey", zap.Int64("conn_id", c.ConnID()), zap.Int64("user_id", userID), zap.Int("matches", n))
	}
}

func (h *Dispatcher) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.PersistTimeout)
}

func (h *Dispatcher) user(ctx context.Context, id int64) (*store.User, error) {
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	return h.Repo.UserByID(pctx, id)
}

// username returns "" when the user cannot be loaded.
func (h *Dispatcher) username(ctx context.Context, id int64) string {
	u, err := h.user(ctx, id)
	if err != nil {
		return ""
	}
	return u.Username
}

// ratingOf falls back to rating.FallbackRating when the user cannot be loaded.
func (h *Dispatcher) ratingOf(ctx context.Context, id int64) int {
	u, err := h.user(ctx, id)
	if err != nil {
		return rating.FallbackRating
	}
	return u.Rating
}

// persist writes the active snapshot. Failures are logged only.
func (h *Dispatcher) persist(ctx context.Context, m *match.Match) {
	if h.Snapshots == nil || m == nil {
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	if err := h.Snapshots.Persist(pctx, m); err != nil {
		obslog.L().Warn("match_persist", zap.String("match_id", m.ID), zap.Error(err))
	}
}

func (h *Dispatcher) dropSnapshot(ctx context.Context, id string) {
	if h.Snapshots == nil {
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	if err := h.Snapshots.Delete(pctx, id); err != nil {
		obslog.L().Warn("match_snapshot_delete", zap.String("match_id", id), zap.Error(err))
	}
}

func (h *Dispatcher) heartbeat(_ context.Context, c Client, msg *protocol.Message) {
	c.Touch()
	h.ok(c, msg, "common.pong", nil)
}

func (h *Dispatcher) broadcastReadyList() {
	h.Router.ToReadyQueue(h.event("ready_list_update", protocol.M{"players": h.Lobby.List()}))
}

func (h *Dispatcher) broadcastRooms() {
	h.Router.ToAll(h.event("rooms_update", protocol.M{"rooms": h.Lobby.Rooms()}))
}
