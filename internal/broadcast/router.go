// Package broadcast resolves audiences (a user, a match, the ready queue,
// everyone) to live connections and queues lines on them.
package broadcast

import (
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/obslog"
)

// Peer is one live connection as seen by the router.
type Peer interface {
	// Identity is the user id when authenticated, or the negated connection
	// id for an anonymous connection.
	Identity() int64
	Send(line []byte) bool
}

// Registry walks the live connections. fn returns false to stop.
type Registry interface {
	EachPeer(fn func(Peer) bool)
}

// Router is used under the server's coordinator lock, so the match and
// lobby reads it performs are serialized with their writers.
type Router struct {
	reg    Registry
	engine *match.Engine
	lobby  *lobby.Lobby
}

func New(reg Registry, engine *match.Engine, lob *lobby.Lobby) *Router {
	return &Router{reg: reg, engine: engine, lobby: lob}
}

// lookup scans the registry on every call; the association is never cached.
func (r *Router) lookup(id int64) Peer {
	if id == 0 {
		return nil
	}
	var found Peer
	r.reg.EachPeer(func(p Peer) bool {
		if p.Identity() == id {
			found = p
			return false
		}
		return true
	})
	return found
}

// Online reports whether id has a live connection.
func (r *Router) Online(id int64) bool { return r.lookup(id) != nil }

// ToUser queues line on the first connection bound to id.
func (r *Router) ToUser(id int64, line []byte) bool {
	p := r.lookup(id)
	if p == nil {
		obslog.L().Debug("broadcast_offline", zap.Int64("user_id", id))
		return false
	}
	return p.Send(line)
}

func (r *Router) toMany(ids []int64, line []byte) int {
	n := 0
	for _, id := range ids {
		if r.ToUser(id, line) {
			n++
		}
	}
	return n
}

// ToMatch sends to both players and every spectator of matchID.
func (r *Router) ToMatch(matchID string, line []byte) int {
	m, ok := r.engine.Get(matchID)
	if !ok {
		obslog.L().Debug("broadcast_match_missing", zap.String("match_id", matchID))
		return 0
	}
	return r.toMany(m.Audience(), line)
}

// ToSpectatorsAnd sends to the spectators of matchID plus the extra ids.
func (r *Router) ToSpectatorsAnd(matchID string, line []byte, extra ...int64) int {
	m, ok := r.engine.Get(matchID)
	if !ok {
		return r.toMany(extra, line)
	}
	ids := append(append([]int64(nil), extra...), m.Spectators...)
	return r.toMany(ids, line)
}

func (r *Router) ToReadyQueue(line []byte) int {
	return r.toMany(r.lobby.ReadyIDs(), line)
}

// ToAll sends to every live connection, anonymous ones included.
func (r *Router) ToAll(line []byte) int {
	n := 0
	r.reg.EachPeer(func(p Peer) bool {
		if p.Send(line) {
			n++
		}
		return true
	})
	return n
}
