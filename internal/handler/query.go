package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
	"github.com/park285/xiangqi-server/internal/store"
)

func page(p protocol.Payload, def, limitMax int) (limit, offset int) {
	limit, offset = p.Int("limit"), p.Int("offset")
	if limit <= 0 {
		limit = def
	}
	if limitMax > 0 && limit > limitMax {
		limit = limitMax
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *Dispatcher) matchHistory(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	limit, offset := page(msg.Payload, DefaultHistoryLimit, MaxHistoryLimit)
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	list, err := h.Repo.MatchHistory(pctx, uid, limit, offset)
	if err != nil {
		obslog.L().Warn("match_history", zap.Int64("user_id", uid), zap.Error(err))
		h.fail(c, msg, "query.history_failed")
		return
	}
	if list == nil {
		list = []store.HistoryEntry{}
	}
	h.ok(c, msg, "query.history", protocol.M{"matches": list})
}

func (h *Dispatcher) liveMatches(ctx context.Context, c Client, msg *protocol.Message) {
	if _, ok := h.authenticate(ctx, c, msg); !ok {
		return
	}
	h.ok(c, msg, "query.live", protocol.M{"matches": h.Engine.Live()})
}

func (h *Dispatcher) profile(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	target := int64(msg.Payload.Int("user_id"))
	if target <= 0 {
		target = uid
	}
	u, err := h.user(ctx, target)
	if err != nil {
		h.fail(c, msg, "common.user_not_found")
		return
	}
	h.ok(c, msg, "query.profile", protocol.M{"profile": protocol.M{
		"user_id":       u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"rating":        u.Rating,
		"rank_title":    h.Catalog.RankTitle(u.Rating),
		"wins":          u.Wins,
		"losses":        u.Losses,
		"draws":         u.Draws,
		"total_matches": u.TotalMatches(),
		"win_rate":      u.WinRate(),
		"created_at":    u.CreatedAt.Unix(),
	}})
}

func (h *Dispatcher) leaderboard(ctx context.Context, c Client, msg *protocol.Message) {
	if _, ok := h.authenticate(ctx, c, msg); !ok {
		return
	}
	limit, offset := page(msg.Payload, DefaultBoardLimit, MaxHistoryLimit)
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	list, err := h.Repo.Leaderboard(pctx, limit, offset)
	if err != nil {
		obslog.L().Warn("leaderboard", zap.Error(err))
		h.fail(c, msg, "query.leaderboard_failed")
		return
	}
	if list == nil {
		list = []store.LeaderboardEntry{}
	}
	h.ok(c, msg, "query.leaderboard", protocol.M{"leaderboard": list})
}
