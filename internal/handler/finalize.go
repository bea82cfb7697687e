package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
	"github.com/park285/xiangqi-server/internal/rating"
	"github.com/park285/xiangqi-server/internal/store"
)

// End reasons.
const (
	reasonResign    = "resign"
	reasonAgreement = "agreement"
	reasonTimeout   = "timeout"
	reasonGameOver  = "game_over"
)

func outcomes(result string) (red, black store.Outcome) {
	switch result {
	case match.ResultRedWin:
		return store.OutcomeWin, store.OutcomeLoss
	case match.ResultBlackWin:
		return store.OutcomeLoss, store.OutcomeWin
	case match.ResultDraw:
		return store.OutcomeDraw, store.OutcomeDraw
	}
	return store.OutcomeNone, store.OutcomeNone
}

// finalize runs the post-game pipeline for a match the engine already ended:
// ratings and stats (rated games only), history, snapshot removal and the
// game_end broadcast. Storage failures are logged and the pipeline goes on.
func (h *Dispatcher) finalize(ctx context.Context, m *match.Match) {
	redName, blackName := "", ""
	redRating, blackRating := 0, 0
	redUser, errRed := h.user(ctx, m.RedID)
	blackUser, errBlack := h.user(ctx, m.BlackID)
	if errRed == nil {
		redName = redUser.Username
	}
	if errBlack == nil {
		blackName = blackUser.Username
	}

	if m.Rated {
		oldRed, oldBlack := rating.FallbackRating, rating.FallbackRating
		if errRed == nil {
			oldRed = redUser.Rating
		}
		if errBlack == nil {
			oldBlack = blackUser.Rating
		}
		if m.EndReason == reasonTimeout {
			redRating, blackRating = rating.ApplyTimeout(oldRed, oldBlack, m.Result, rating.DefaultK)
		} else {
			ch := rating.Calculate(oldRed, oldBlack, m.Result, rating.DefaultK)
			redRating, blackRating = oldRed+ch.Red, oldBlack+ch.Black
		}
		redOut, blackOut := outcomes(m.Result)
		h.updateStats(ctx, m.ID, m.RedID, redRating, redOut)
		h.updateStats(ctx, m.ID, m.BlackID, blackRating, blackOut)
	}

	moves, err := json.Marshal(m.Moves)
	if err != nil {
		moves = []byte("[]")
	}
	rec := &store.MatchRecord{
		MatchID:   m.ID,
		RedID:     m.RedID,
		BlackID:   m.BlackID,
		RedName:   redName,
		BlackName: blackName,
		Result:    m.Result,
		Reason:    m.EndReason,
		Moves:     moves,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
	pctx, cancel := h.persistCtx(ctx)
	if err := h.Repo.SaveMatch(pctx, rec); err != nil {
		obslog.L().Error("match_save", zap.String("match_id", m.ID), zap.Error(err))
	}
	cancel()
	h.dropSnapshot(ctx, m.ID)

	h.Router.ToMatch(m.ID, h.event("game_end", protocol.M{
		"match_id":     m.ID,
		"result":       m.Result,
		"reason":       m.EndReason,
		"red_rating":   redRating,
		"black_rating": blackRating,
	}))
	h.Metrics.MatchEnded(m.EndReason)
	obslog.L().Info("match_finalize",
		zap.String("match_id", m.ID),
		zap.String("result", m.Result),
		zap.String("reason", m.EndReason),
		zap.Bool("rated", m.Rated),
	)
}

func (h *Dispatcher) updateStats(ctx context.Context, matchID string, userID int64, newRating int, out store.Outcome) {
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	if err := h.Repo.UpdateRatingStats(pctx, userID, newRating, out); err != nil {
		obslog.L().Error("rating_update",
			zap.String("match_id", matchID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

// endAndFinalize ends an active match and runs finalize. It returns false if
// the match was not active.
func (h *Dispatcher) endAndFinalize(ctx context.Context, id, result, reason string) bool {
	m, err := h.Engine.End(id, result, reason)
	if err != nil {
		return false
	}
	h.finalize(ctx, m)
	return true
}

// ProcessTimeouts finalizes every match the engine has ended for running out
// of time since the last call.
func (h *Dispatcher) ProcessTimeouts(ctx context.Context) int {
	pending := h.Engine.DrainTimeouts()
	for _, ti := range pending {
		m, ok := h.Engine.Get(ti.MatchID)
		if !ok {
			continue
		}
		h.finalize(ctx, m)
	}
	return len(pending)
}

// Sweep charges elapsed time on all active matches and finalizes the ones
// that ran out.
func (h *Dispatcher) Sweep(ctx context.Context) int {
	h.Engine.CheckAllTimeouts()
	n := h.ProcessTimeouts(ctx)
	h.Metrics.SetActiveMatches(h.Engine.ActiveCount())
	return n
}

// Cleanup expires sessions and challenges and evicts long-ended matches.
func (h *Dispatcher) Cleanup(ctx context.Context) {
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	sessions, err := h.Sessions.CleanupExpired(pctx)
	if err != nil {
		obslog.L().Warn("session_cleanup", zap.Error(err))
	}
	challenges := h.Lobby.CleanupExpiredChallenges()
	evicted := h.Engine.EvictEnded(EndedMatchRetention)
	if sessions+challenges+evicted > 0 {
		obslog.L().Debug("cleanup",
			zap.Int("sessions", sessions),
			zap.Int("challenges", challenges),
			zap.Int("matches", evicted),
		)
	}
}
