package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
)

func (h *Dispatcher) roomCode(c Client, msg *protocol.Message) (string, bool) {
	code, _ := msg.Payload.String("room_code")
	if code == "" {
		h.fail(c, msg, "room.code_required")
		return "", false
	}
	return code, true
}

func (h *Dispatcher) createRoom(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	password, _ := msg.Payload.String("password")
	rated := msg.Payload.Bool("rated")
	r, err := h.Lobby.CreateRoom(uid, h.username(ctx, uid), password, rated)
	if err != nil {
		obslog.L().Warn("room_create", zap.Int64("user_id", uid), zap.Error(err))
		h.fail(c, msg, "room.create_failed")
		return
	}
	obslog.L().Info("room_create", zap.String("room_code", r.Code), zap.Int64("host_id", uid))
	h.ok(c, msg, "room.created", protocol.M{
		"room_code": r.Code,
		"host_id":   r.HostID,
		"host_name": r.HostName,
		"rated":     r.Rated,
	})
	h.broadcastRooms()
}

func (h *Dispatcher) joinRoom(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	code, ok := h.roomCode(c, msg)
	if !ok {
		return
	}
	password, _ := msg.Payload.String("password")
	r, err := h.Lobby.JoinRoom(code, uid, password)
	if err != nil {
		obslog.L().Debug("room_join_rejected", zap.String("room_code", code), zap.Int64("user_id", uid), zap.Error(err))
		h.fail(c, msg, "room.cannot_join")
		return
	}
	h.ok(c, msg, "room.joined", protocol.M{
		"room_code":   r.Code,
		"host_id":     r.HostID,
		"host_name":   r.HostName,
		"host_rating": h.ratingOf(ctx, r.HostID),
	})
	guest := protocol.M{"room_code": r.Code, "guest_id": uid, "guest_name": "", "guest_rating": 0}
	if u, err := h.user(ctx, uid); err == nil {
		guest["guest_name"], guest["guest_rating"] = u.Username, u.Rating
	}
	h.Router.ToUser(r.HostID, h.event("room_guest_joined", guest))
	h.broadcastRooms()
}

// notifyLeave tells the remaining occupant about a departure.
func (h *Dispatcher) notifyLeave(res lobby.LeaveResult) {
	if res.NotifyID == 0 {
		return
	}
	if res.HostLeft {
		h.Router.ToUser(res.NotifyID, h.event("room_closed", protocol.M{"room_code": res.Code, "reason": "host_left"}))
		return
	}
	h.Router.ToUser(res.NotifyID, h.event("room_guest_left", protocol.M{"room_code": res.Code}))
}

func (h *Dispatcher) leaveRoom(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	code, ok := h.roomCode(c, msg)
	if !ok {
		return
	}
	res, err := h.Lobby.LeaveRoom(code, uid)
	switch {
	case errors.Is(err, lobby.ErrRoomNotFound):
		h.fail(c, msg, "room.not_found")
		return
	case err != nil:
		h.fail(c, msg, "room.cannot_leave")
		return
	}
	h.ok(c, msg, "room.left", nil)
	h.notifyLeave(res)
	h.broadcastRooms()
}

func (h *Dispatcher) getRooms(ctx context.Context, c Client, msg *protocol.Message) {
	if _, ok := h.authenticate(ctx, c, msg); !ok {
		return
	}
	h.ok(c, msg, "room.list", protocol.M{"rooms": h.Lobby.Rooms()})
}

func (h *Dispatcher) startRoomGame(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	code, ok := h.roomCode(c, msg)
	if !ok {
		return
	}
	r, ok := h.Lobby.Room(code)
	switch {
	case !ok:
		h.fail(c, msg, "room.not_found")
		return
	case r.HostID != uid:
		h.fail(c, msg, "room.only_host")
		return
	case !r.HasGuest():
		h.fail(c, msg, "room.need_opponent")
		return
	}
	m, err := h.Engine.Create(r.HostID, r.GuestID, r.Rated, h.TimePerPlayerMs)
	if err != nil {
		obslog.L().Warn("match_create_failed", zap.String("room_code", r.Code), zap.Error(err))
		h.fail(c, msg, "lobby.create_match_failed")
		return
	}
	h.persist(ctx, m)
	h.announcePair(ctx, m, nil)
	h.Lobby.CloseRoom(r.Code)
	h.broadcastRooms()
	h.ok(c, msg, "room.started", protocol.M{"match_id": m.ID})
}

// announcePair sends each player a match_found event describing the other
// side. extra is merged into both payloads.
func (h *Dispatcher) announcePair(ctx context.Context, m *match.Match, extra protocol.M) {
	red, errRed := h.user(ctx, m.RedID)
	black, errBlack := h.user(ctx, m.BlackID)
	side := func(color match.Color, oppID int64) protocol.M {
		p := protocol.M{
			"match_id":        m.ID,
			"your_color":      color,
			"opponent_id":     oppID,
			"opponent_name":   "",
			"opponent_rating": 0,
			"rated":           m.Rated,
			"time_per_player": m.InitialTimeMs,
		}
		for k, v := range extra {
			p[k] = v
		}
		return p
	}
	toRed := side(match.Red, m.BlackID)
	if errBlack == nil {
		toRed["opponent_name"], toRed["opponent_rating"] = black.Username, black.Rating
	}
	toBlack := side(match.Black, m.RedID)
	if errRed == nil {
		toBlack["opponent_name"], toBlack["opponent_rating"] = red.Username, red.Rating
	}
	h.Router.ToUser(m.RedID, h.event("match_found", toRed))
	h.Router.ToUser(m.BlackID, h.event("match_found", toBlack))
}
