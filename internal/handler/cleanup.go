package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
)

// releaseUser takes userID out of the ready queue and every room, telling
// the remaining occupants.
func (h *Dispatcher) releaseUser(userID int64) {
	if h.Lobby.Remove(userID) {
		h.broadcastReadyList()
	}
	left := h.Lobby.ReleaseUser(userID)
	for _, res := range left {
		h.notifyLeave(res)
	}
	if len(left) > 0 {
		h.broadcastRooms()
	}
}

// Release runs disconnect cleanup for c. Matches are left running so the
// player can rejoin; their clock keeps going.
func (h *Dispatcher) Release(_ context.Context, c Client) {
	dropped := h.Engine.DropSpectator(-c.ConnID())
	uid := c.UserID()
	if uid > 0 {
		h.releaseUser(uid)
		dropped += h.Engine.DropSpectator(uid)
	}
	obslog.L().Debug("conn_release",
		zap.Int64("conn_id", c.ConnID()),
		zap.Int64("user_id", uid),
		zap.Int("spectating", dropped),
	)
}
