// Package lobby holds the pre-game state: the ready queue, private rooms and
// direct challenges.
//
// A Lobby has no lock of its own. Every call must be serialized by the
// caller; the server does this with its coordinator mutex.
package lobby

import (
	"github.com/jonboulle/clockwork"
)

type Lobby struct {
	clock      clockwork.Clock
	ready      []*Entry
	rooms      map[string]*Room
	challenges map[string]*Challenge

	maxReady      int
	maxRooms      int
	maxChallenges int
}

type Option func(*Lobby)

func WithClock(c clockwork.Clock) Option {
	return func(l *Lobby) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLimits overrides table capacities; non-positive values keep the default.
func WithLimits(ready, rooms, challenges int) Option {
	return func(l *Lobby) {
		if ready > 0 {
			l.maxReady = ready
		}
		if rooms > 0 {
			l.maxRooms = rooms
		}
		if challenges > 0 {
			l.maxChallenges = challenges
		}
	}
}

func New(opts ...Option) *Lobby {
	l := &Lobby{
		clock:         clockwork.NewRealClock(),
		rooms:         make(map[string]*Room),
		challenges:    make(map[string]*Challenge),
		maxReady:      MaxReadyPlayers,
		maxRooms:      MaxRooms,
		maxChallenges: MaxChallenges,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}
