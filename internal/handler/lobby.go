package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
)

const reasonNotifyFailed = "notify_failed"

func (h *Dispatcher) readyEntry(ctx context.Context, userID int64) (lobby.Entry, bool) {
	u, err := h.user(ctx, userID)
	if err != nil {
		obslog.L().Warn("ready_lookup", zap.Int64("user_id", userID), zap.Error(err))
		return lobby.Entry{}, false
	}
	return lobby.Entry{UserID: u.ID, Username: u.Username, Rating: u.Rating}, true
}

func (h *Dispatcher) setReady(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	ready := msg.Payload.Bool("ready")
	entry := lobby.Entry{UserID: uid}
	if ready {
		if entry, ok = h.readyEntry(ctx, uid); !ok {
			h.fail(c, msg, "common.user_not_found")
			return
		}
	}
	if err := h.Lobby.SetReady(entry, ready); err != nil {
		h.fail(c, msg, "lobby.queue_full")
		return
	}
	h.broadcastReadyList()
	if ready {
		h.ok(c, msg, "lobby.ready_set", nil)
		return
	}
	h.ok(c, msg, "lobby.ready_removed", nil)
}

func (h *Dispatcher) findMatch(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	rated := msg.Payload.Bool("rated")
	self, ok := h.readyEntry(ctx, uid)
	if !ok {
		h.fail(c, msg, "common.user_not_found")
		return
	}
	// a full queue still allows pairing with someone already waiting
	queuedSelf := h.Lobby.SetReady(self, true) == nil
	if queuedSelf {
		h.broadcastReadyList()
	}

	var opp lobby.Entry
	var found bool
	if rated {
		opp, found = h.Lobby.FindRatedMatch(uid, self.Rating, h.RatedTolerance)
	} else {
		opp, found = h.Lobby.FindRandomMatch(uid)
	}
	queued := protocol.M{"status": "queued"}
	if !found {
		if !queuedSelf {
			h.fail(c, msg, "lobby.queue_full")
			return
		}
		h.ok(c, msg, "lobby.queued", queued)
		return
	}
	if !h.Router.Online(uid) {
		h.fail(c, msg, "lobby.not_connected")
		return
	}
	if !h.Router.Online(opp.UserID) {
		// 상대는 큐에서 빠지고 요청자는 다시 대기열로
		obslog.L().Info("match_opponent_offline", zap.Int64("user_id", uid), zap.Int64("opponent_id", opp.UserID))
		_ = h.Lobby.SetReady(self, true)
		h.broadcastReadyList()
		h.ok(c, msg, "lobby.queued", queued)
		return
	}

	m, err := h.Engine.Create(uid, opp.UserID, rated, h.TimePerPlayerMs)
	if err != nil {
		obslog.L().Warn("match_create_failed", zap.Int64("user_id", uid), zap.Error(err))
		h.fail(c, msg, "lobby.create_match_failed")
		return
	}
	h.persist(ctx, m)

	payloadFor := func(color match.Color) protocol.M {
		return protocol.M{
			"match_id":        m.ID,
			"red_user":        self.Username,
			"black_user":      opp.Username,
			"your_color":      color,
			"time_per_player": m.InitialTimeMs,
		}
	}
	mine := payloadFor(match.Red)
	sentSelf := h.Router.ToUser(uid, h.event("match_found", mine))
	sentOpp := h.Router.ToUser(opp.UserID, h.event("match_found", payloadFor(match.Black)))
	if !sentSelf || !sentOpp {
		obslog.L().Warn("match_notify_failed",
			zap.String("match_id", m.ID),
			zap.Bool("sent_red", sentSelf),
			zap.Bool("sent_black", sentOpp),
		)
		if _, err := h.Engine.End(m.ID, match.ResultAborted, reasonNotifyFailed); err == nil {
			h.Metrics.MatchEnded(reasonNotifyFailed)
		}
		h.dropSnapshot(ctx, m.ID)
		for _, e := range []lobby.Entry{self, opp} {
			if h.Router.Online(e.UserID) {
				_ = h.Lobby.SetReady(e, true)
			}
		}
		h.broadcastReadyList()
		h.ok(c, msg, "lobby.queued", queued)
		return
	}
	h.broadcastReadyList()
	h.ok(c, msg, "lobby.match_found", mine)
}
