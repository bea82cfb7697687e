package handler

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
)

func (h *Dispatcher) challenge(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	target := int64(msg.Payload.Int("opponent_id"))
	if target <= 0 || target == uid {
		h.fail(c, msg, "social.invalid_opponent")
		return
	}
	rated := msg.Payload.Bool("rated")
	ch, err := h.Lobby.CreateChallenge(uid, target, rated)
	if err != nil {
		obslog.L().Warn("challenge_create", zap.Int64("from", uid), zap.Int64("to", target), zap.Error(err))
		h.fail(c, msg, "social.challenge_failed")
		return
	}
	h.ok(c, msg, "social.challenge_sent", protocol.M{"challenge_id": ch.ID})
	h.Router.ToUser(target, h.event("challenge_received", protocol.M{
		"challenge_id":  ch.ID,
		"from_user_id":  uid,
		"from_username": h.username(ctx, uid),
		"rated":         rated,
	}))
}

func (h *Dispatcher) challengeResponse(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	id, _ := msg.Payload.String("challenge_id")
	if id == "" {
		h.fail(c, msg, "social.missing_challenge")
		return
	}
	if !msg.Payload.Bool("accept") {
		if err := h.Lobby.DeclineChallenge(id, uid); err != nil {
			h.fail(c, msg, "social.challenge_not_found")
			return
		}
		h.ok(c, msg, "social.challenge_declined", nil)
		return
	}
	ch, err := h.Lobby.AcceptChallenge(id, uid)
	if err != nil {
		h.fail(c, msg, "social.accept_failed")
		return
	}
	m, err := h.Engine.Create(ch.FromID, ch.ToID, ch.Rated, h.TimePerPlayerMs)
	if err != nil {
		obslog.L().Warn("match_create_failed", zap.String("challenge_id", id), zap.Error(err))
		h.fail(c, msg, "lobby.create_match_failed")
		return
	}
	h.persist(ctx, m)
	start := h.event("match_start", protocol.M{
		"match_id":      m.ID,
		"red_user_id":   m.RedID,
		"black_user_id": m.BlackID,
		"rated":         m.Rated,
	})
	h.Router.ToUser(m.RedID, start)
	h.Router.ToUser(m.BlackID, start)
	h.ok(c, msg, "social.challenge_accepted", protocol.M{"match_id": m.ID})
}

func (h *Dispatcher) chatMessage(ctx context.Context, c Client, msg *protocol.Message) {
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	id, _ := msg.Payload.String("match_id")
	text, _ := msg.Payload.String("message")
	if id == "" || text == "" {
		h.fail(c, msg, "social.chat_missing")
		return
	}
	if utf8.RuneCountInString(text) > ChatMaxLen {
		c.Send(protocol.EncodeResponse(msg.Seq, false, h.Catalog.Text("social.chat_too_long", map[string]any{"Max": ChatMaxLen}), nil))
		return
	}
	m, ok := h.Engine.Get(id)
	if !ok {
		h.fail(c, msg, "match.not_found")
		return
	}
	if !m.IsPlayer(uid) && !m.HasSpectator(uid) {
		h.fail(c, msg, "social.not_in_match")
		return
	}
	h.Router.ToMatch(id, h.event("chat_message", protocol.M{
		"match_id":  id,
		"user_id":   uid,
		"username":  h.username(ctx, uid),
		"message":   text,
		"timestamp": h.Clock.Now().Unix(),
	}))
	h.ok(c, msg, "social.chat_sent", nil)
}
