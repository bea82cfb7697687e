package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
)

// optionalAuth binds the connection when the envelope carries a valid token.
// Anonymous connections keep their negative identity.
func (h *Dispatcher) optionalAuth(ctx context.Context, c Client, msg *protocol.Message) {
	if msg.Token == "" {
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	if uid, err := h.Sessions.Validate(pctx, msg.Token); err == nil {
		h.bind(c, uid)
	}
}

func (h *Dispatcher) joinSpectate(ctx context.Context, c Client, msg *protocol.Message) {
	h.optionalAuth(ctx, c, msg)
	id, ok := h.matchID(c, msg)
	if !ok {
		return
	}
	m, ok := h.Engine.GetActive(id)
	if !ok {
		h.fail(c, msg, "match.not_found_or_ended")
		return
	}
	who := c.Identity()
	if err := h.Engine.AddSpectator(id, who); err != nil {
		obslog.L().Debug("spectate_rejected", zap.String("match_id", id), zap.Int64("spectator", who), zap.Error(err))
		h.fail(c, msg, "spectate.add_failed")
		return
	}
	obslog.L().Info("spectate_join", zap.String("match_id", id), zap.Int64("spectator", who))
	h.ok(c, msg, "spectate.joined", protocol.M{
		"match_id":     m.ID,
		"move_count":   len(m.Moves),
		"current_turn": m.CurrentTurn(),
		"is_spectator": true,
		"match_data":   match.SnapshotOf(m),
	})
}

func (h *Dispatcher) leaveSpectate(ctx context.Context, c Client, msg *protocol.Message) {
	h.optionalAuth(ctx, c, msg)
	id, ok := h.matchID(c, msg)
	if !ok {
		return
	}
	if !h.Engine.RemoveSpectator(id, c.Identity()) && !h.Engine.RemoveSpectator(id, -c.ConnID()) {
		h.fail(c, msg, "spectate.not_spectating")
		return
	}
	h.ok(c, msg, "spectate.left", nil)
}
