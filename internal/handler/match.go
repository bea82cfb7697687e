package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
	"github.com/park285/xiangqi-server/internal/store"
)

func (h *Dispatcher) matchID(c Client, msg *protocol.Message) (string, bool) {
	id, _ := msg.Payload.String("match_id")
	if id == "" {
		h.fail(c, msg, "match.missing_id")
		return "", false
	}
	return id, true
}

func square(p protocol.Payload, row, col string) match.Square {
	return match.Square{Row: p.Int(row), Col: p.Int(col)}
}

func (h *Dispatcher) move(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	id, ok := h.matchID(c, msg)
	if !ok {
		return
	}
	m, ok := h.Engine.GetActive(id)
	if !ok {
		h.fail(c, msg, "match.not_found")
		return
	}
	if m.SideToMove() != uid {
		h.fail(c, msg, "match.not_your_turn")
		return
	}
	h.Engine.UpdateTimer(id)
	if h.Engine.CheckTimeout(id) {
		h.Engine.Expire(id)
		h.fail(c, msg, "match.time_expired")
		h.ProcessTimeouts(ctx)
		return
	}

	from := square(msg.Payload, "from_row", "from_col")
	to := square(msg.Payload, "to_row", "to_col")
	if err := h.Engine.Validate(id, uid, from, to); err != nil {
		h.fail(c, msg, "match.invalid_move")
		return
	}
	mv := match.Move{From: from, To: to}
	mv.Piece, _ = msg.Payload.String("piece")
	mv.Capture, _ = msg.Payload.String("captured")
	mv.Notation, _ = msg.Payload.String("notation")
	m, err := h.Engine.AddMove(id, mv)
	if err != nil {
		obslog.L().Warn("move_add", zap.String("match_id", id), zap.Error(err))
		h.fail(c, msg, "match.add_move_failed")
		return
	}

	h.ok(c, msg, "match.move_accepted", protocol.M{
		"red_time_ms":   m.RedTimeMs,
		"black_time_ms": m.BlackTimeMs,
	})
	h.Router.ToSpectatorsAnd(id, h.event("opponent_move", protocol.M{
		"match_id":      id,
		"from":          from,
		"to":            to,
		"red_time_ms":   m.RedTimeMs,
		"black_time_ms": m.BlackTimeMs,
	}), m.Opponent(uid))
	h.persist(ctx, m)
}

// activePlayerMatch resolves match_id to an active match the user plays in.
// notFoundKey selects the message for a missing or ended match.
func (h *Dispatcher) activePlayerMatch(c Client, msg *protocol.Message, uid int64, notFoundKey string) (*match.Match, bool) {
	id, ok := h.matchID(c, msg)
	if !ok {
		return nil, false
	}
	m, ok := h.Engine.GetActive(id)
	if !ok {
		h.fail(c, msg, notFoundKey)
		return nil, false
	}
	if !m.IsPlayer(uid) {
		h.fail(c, msg, "match.not_player")
		return nil, false
	}
	return m, true
}

func (h *Dispatcher) resign(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	m, ok := h.activePlayerMatch(c, msg, uid, "match.not_found")
	if !ok {
		return
	}
	winner := match.Red
	if m.ColorOf(uid) == match.Red {
		winner = match.Black
	}
	if !h.endAndFinalize(ctx, m.ID, match.WinnerResult(winner), reasonResign) {
		h.fail(c, msg, "match.not_found")
		return
	}
	h.ok(c, msg, "match.resigned", nil)
}

func (h *Dispatcher) drawOffer(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	m, ok := h.activePlayerMatch(c, msg, uid, "match.not_found_or_ended")
	if !ok {
		return
	}
	h.Router.ToUser(m.Opponent(uid), h.event("draw_offer", protocol.M{
		"match_id":     m.ID,
		"from_user_id": uid,
	}))
	h.ok(c, msg, "match.draw_offer_sent", nil)
}

func (h *Dispatcher) drawResponse(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	m, ok := h.activePlayerMatch(c, msg, uid, "match.not_found_or_ended")
	if !ok {
		return
	}
	if !msg.Payload.Bool("accept") {
		h.ok(c, msg, "match.draw_declined", nil)
		return
	}
	if !h.endAndFinalize(ctx, m.ID, match.ResultDraw, reasonAgreement) {
		h.fail(c, msg, "match.not_found_or_ended")
		return
	}
	h.ok(c, msg, "match.draw_accepted", nil)
}

func (h *Dispatcher) gameOver(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	id, _ := msg.Payload.String("match_id")
	result, _ := msg.Payload.String("result")
	if id == "" || result == "" {
		h.fail(c, msg, "match.missing_result")
		return
	}
	switch result {
	case match.ResultRedWin, match.ResultBlackWin, match.ResultDraw:
	default:
		h.fail(c, msg, "match.invalid_result")
		return
	}
	reason, _ := msg.Payload.String("reason")
	if reason == "" {
		reason = reasonGameOver
	}
	if m, ok := h.Engine.GetActive(id); ok {
		if !m.IsPlayer(uid) {
			h.fail(c, msg, "match.not_player")
			return
		}
		h.endAndFinalize(ctx, id, result, reason)
	}
	h.ok(c, msg, "match.game_ended", nil)
}

func (h *Dispatcher) joinMatch(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	id, ok := h.matchID(c, msg)
	if !ok {
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	m, err := h.Engine.LoadFrom(pctx, h.Snapshots, id)
	cancel()
	if err != nil || !m.Active {
		if err != nil && !errors.Is(err, match.ErrNotFound) {
			obslog.L().Warn("match_reload", zap.String("match_id", id), zap.Error(err))
		}
		h.fail(c, msg, "match.not_found_or_ended")
		return
	}
	if !m.IsPlayer(uid) {
		h.fail(c, msg, "match.not_player")
		return
	}
	h.ok(c, msg, "match.joined", protocol.M{
		"match_id":     m.ID,
		"move_count":   len(m.Moves),
		"current_turn": m.CurrentTurn(),
		"is_my_turn":   m.SideToMove() == uid,
	})
}

func (h *Dispatcher) getMatch(ctx context.Context, c Client, msg *protocol.Message) {
	if _, ok := h.authenticate(ctx, c, msg); !ok {
		return
	}
	id, ok := h.matchID(c, msg)
	if !ok {
		return
	}
	if m, ok := h.Engine.GetActive(id); ok {
		h.ok(c, msg, "match.found", match.SnapshotOf(m))
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	rec, err := h.Repo.MatchRecord(pctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrMatchNotFound) {
			obslog.L().Warn("match_record", zap.String("match_id", id), zap.Error(err))
		}
		h.fail(c, msg, "match.not_found")
		return
	}
	moves := rec.Moves
	if len(moves) == 0 {
		moves = []byte("[]")
	}
	h.ok(c, msg, "match.found", protocol.M{
		"match_id":   rec.MatchID,
		"red_user":   rec.RedName,
		"black_user": rec.BlackName,
		"result":     rec.Result,
		"moves":      moves,
		"started_at": rec.StartedAt.Unix(),
		"ended_at":   rec.EndedAt.Unix(),
	})
}

func (h *Dispatcher) getTimer(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	id, _ := msg.Payload.String("match_id")
	if id == "" {
		m, ok := h.Engine.FindByUser(uid)
		if !ok {
			h.fail(c, msg, "match.no_active")
			return
		}
		id = m.ID
	}
	v, ok := h.Engine.Timer(id)
	if !ok {
		h.fail(c, msg, "match.no_active")
		return
	}
	h.ok(c, msg, "match.timer", protocol.M{"timer": v})
}
