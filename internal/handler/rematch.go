package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
)

// rematchSource resolves the finished match a rematch refers to.
func (h *Dispatcher) rematchSource(c Client, msg *protocol.Message, uid int64) (*match.Match, bool) {
	id, _ := msg.Payload.String("match_id")
	if id == "" {
		h.fail(c, msg, "rematch.id_required")
		return nil, false
	}
	m, ok := h.Engine.Get(id)
	if !ok {
		h.fail(c, msg, "match.not_found")
		return nil, false
	}
	if !m.IsPlayer(uid) {
		h.fail(c, msg, "social.not_in_match")
		return nil, false
	}
	if m.Active {
		h.fail(c, msg, "rematch.in_progress")
		return nil, false
	}
	return m, true
}

func (h *Dispatcher) rematchRequest(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	m, ok := h.rematchSource(c, msg, uid)
	if !ok {
		return
	}
	opp := m.Opponent(uid)
	if !h.Router.Online(opp) {
		h.fail(c, msg, "rematch.opponent_offline")
		return
	}
	m.RematchFrom = uid
	h.Router.ToUser(opp, h.event("rematch_request", protocol.M{
		"match_id":      m.ID,
		"from_user_id":  uid,
		"from_username": h.username(ctx, uid),
	}))
	h.ok(c, msg, "rematch.sent", nil)
}

func (h *Dispatcher) rematchResponse(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	old, ok := h.rematchSource(c, msg, uid)
	if !ok {
		return
	}
	if old.RematchFrom == 0 || old.RematchFrom == uid {
		h.fail(c, msg, "rematch.no_request")
		return
	}
	old.RematchFrom = 0
	if !msg.Payload.Bool("accept") {
		h.ok(c, msg, "rematch.declined", nil)
		h.Router.ToUser(old.Opponent(uid), h.event("rematch_declined", protocol.M{"match_id": old.ID}))
		return
	}
	m, err := h.Engine.Create(old.BlackID, old.RedID, old.Rated, old.InitialTimeMs)
	if err != nil {
		obslog.L().Warn("rematch_create", zap.String("match_id", old.ID), zap.Error(err))
		h.fail(c, msg, "rematch.create_failed")
		return
	}
	h.persist(ctx, m)
	h.announcePair(ctx, m, protocol.M{"rematch": true})
	obslog.L().Info("rematch_create", zap.String("from_match", old.ID), zap.String("match_id", m.ID))
	h.ok(c, msg, "rematch.accepted", protocol.M{"match_id": m.ID})
}
