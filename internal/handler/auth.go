package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/auth"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/protocol"
	"github.com/park285/xiangqi-server/internal/store"
)

func (h *Dispatcher) register(ctx context.Context, c Client, msg *protocol.Message) {
	reg := auth.Registration{}
	reg.Username, _ = msg.Payload.String("username")
	reg.Email, _ = msg.Payload.String("email")
	reg.Password, _ = msg.Payload.String("password")

	switch err := auth.ValidateRegistration(reg); {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidUsername):
		h.fail(c, msg, "auth.invalid_username")
		return
	case errors.Is(err, auth.ErrInvalidEmail):
		h.fail(c, msg, "auth.invalid_email")
		return
	default:
		h.fail(c, msg, "auth.missing_fields")
		return
	}

	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	if taken, err := h.Repo.UsernameExists(pctx, reg.Username); err != nil || taken {
		if err != nil {
			obslog.L().Warn("register_lookup", zap.Error(err))
			h.fail(c, msg, "auth.create_failed")
			return
		}
		h.fail(c, msg, "auth.username_taken")
		return
	}
	if taken, err := h.Repo.EmailExists(pctx, reg.Email); err != nil || taken {
		if err != nil {
			obslog.L().Warn("register_lookup", zap.Error(err))
			h.fail(c, msg, "auth.create_failed")
			return
		}
		h.fail(c, msg, "auth.email_taken")
		return
	}
	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		obslog.L().Error("password_hash", zap.Error(err))
		h.fail(c, msg, "auth.create_failed")
		return
	}
	id, err := h.Repo.CreateUser(pctx, reg.Username, reg.Email, hash)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		h.fail(c, msg, "auth.username_taken")
		return
	case errors.Is(err, store.ErrEmailTaken):
		h.fail(c, msg, "auth.email_taken")
		return
	case err != nil:
		obslog.L().Error("user_create", zap.String("username", reg.Username), zap.Error(err))
		h.fail(c, msg, "auth.create_failed")
		return
	}
	obslog.L().Info("user_register", zap.Int64("user_id", id), zap.String("username", reg.Username))
	h.ok(c, msg, "auth.registered", protocol.M{"user_id": id, "username": reg.Username})
}

func (h *Dispatcher) login(ctx context.Context, c Client, msg *protocol.Message) {
	username, _ := msg.Payload.String("username")
	password, _ := msg.Payload.String("password")
	if username == "" || password == "" {
		h.fail(c, msg, "auth.missing_credentials")
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	u, err := h.Repo.UserByUsername(pctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			obslog.L().Warn("login_lookup", zap.String("username", username), zap.Error(err))
		}
		h.fail(c, msg, "auth.bad_credentials")
		return
	}
	if auth.CheckPassword(u.PasswordHash, password) != nil {
		h.fail(c, msg, "auth.bad_credentials")
		return
	}
	token, err := h.Sessions.Create(pctx, u.ID)
	if err != nil {
		obslog.L().Error("session_create", zap.Int64("user_id", u.ID), zap.Error(err))
		h.fail(c, msg, "auth.session_failed")
		return
	}
	h.bind(c, u.ID)
	obslog.L().Info("user_login", zap.Int64("user_id", u.ID), zap.Int64("conn_id", c.ConnID()))
	h.ok(c, msg, "auth.logged_in", protocol.M{
		"token":    token,
		"user_id":  u.ID,
		"username": u.Username,
		"rating":   u.Rating,
	})
}

func (h *Dispatcher) logout(ctx context.Context, c Client, msg *protocol.Message) {
	if msg.Token == "" {
		h.fail(c, msg, "auth.not_authenticated")
		return
	}
	uid, ok := h.authenticate(ctx, c, msg)
	if !ok {
		return
	}
	h.releaseUser(uid)
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	if err := h.Sessions.Destroy(pctx, msg.Token); err != nil {
		obslog.L().Warn("session_destroy", zap.Int64("user_id", uid), zap.Error(err))
	}
	c.Unbind()
	obslog.L().Info("user_logout", zap.Int64("user_id", uid))
	h.ok(c, msg, "auth.logged_out", nil)
}

func (h *Dispatcher) validateToken(ctx context.Context, c Client, msg *protocol.Message) {
	token, _ := msg.Payload.String("token")
	if token == "" {
		h.fail(c, msg, "auth.missing_token")
		return
	}
	pctx, cancel := h.persistCtx(ctx)
	defer cancel()
	uid, err := h.Sessions.Validate(pctx, token)
	if err != nil {
		h.failWith(c, msg, "auth.token_invalid", protocol.M{"valid": false})
		return
	}
	h.bind(c, uid)
	payload := protocol.M{"valid": true, "user_id": uid, "username": "", "rating": 0}
	if u, err := h.Repo.UserByID(pctx, uid); err == nil {
		payload["username"], payload["rating"] = u.Username, u.Rating
	}
	h.ok(c, msg, "auth.token_valid", payload)
}
