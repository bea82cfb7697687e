package match

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
)

// Persister stores active-match snapshots outside the process.
type Persister interface {
	Persist(ctx context.Context, m *Match) error
	Load(ctx context.Context, id string) (*Match, error)
	Delete(ctx context.Context, id string) error
}

// Engine owns the match table. It carries no lock: callers serialize every
// call (the server runs all of them under its coordinator mutex).
type Engine struct {
	clock         clockwork.Clock
	matches       map[string]*Match
	pending       []TimeoutInfo
	maxMatches    int
	maxMoves      int
	maxSpectators int
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithCapacity overrides the active-match limit.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxMatches = n
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:         clockwork.NewRealClock(),
		matches:       make(map[string]*Match),
		maxMatches:    MaxMatches,
		maxMoves:      MaxMovesPerMatch,
		maxSpectators: MaxSpectatorsPerMatch,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Now() time.Time { return e.clock.Now() }

func newMatchID() string {
	return "match_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// ActiveCount returns the number of matches still in play.
func (e *Engine) ActiveCount() int {
	n := 0
	for _, m := range e.matches {
		if m.Active {
			n++
		}
	}
	return n
}

// Create starts a new match. timeMs <= 0 means the default allotment.
func (e *Engine) Create(redID, blackID int64, rated bool, timeMs int) (*Match, error) {
	if e.ActiveCount() >= e.maxMatches {
		return nil, ErrCapacity
	}
	if timeMs <= 0 {
		timeMs = DefaultTimeMs
	}
	now := e.clock.Now()
	m := &Match{
		ID:            newMatchID(),
		RedID:         redID,
		BlackID:       blackID,
		RedTimeMs:     timeMs,
		BlackTimeMs:   timeMs,
		InitialTimeMs: timeMs,
		Rated:         rated,
		StartedAt:     now,
		LastMoveAt:    now,
		Active:        true,
		Result:        ResultOngoing,
	}
	for e.matches[m.ID] != nil {
		m.ID = newMatchID()
	}
	e.matches[m.ID] = m
	obslog.L().Info("match_create",
		zap.String("match_id", m.ID),
		zap.Int64("red", redID),
		zap.Int64("black", blackID),
		zap.Bool("rated", rated),
	)
	return m, nil
}

// Get returns a resident match in any state.
func (e *Engine) Get(id string) (*Match, bool) {
	m, ok := e.matches[id]
	return m, ok
}

// GetActive returns a resident match that is still in play.
func (e *Engine) GetActive(id string) (*Match, bool) {
	m, ok := e.matches[id]
	if !ok || !m.Active {
		return nil, false
	}
	return m, true
}

// FindByUser returns the active match a user plays in, if any.
func (e *Engine) FindByUser(userID int64) (*Match, bool) {
	var found *Match
	for _, m := range e.matches {
		if m.Active && m.IsPlayer(userID) {
			if found == nil || m.StartedAt.After(found.StartedAt) {
				found = m
			}
		}
	}
	return found, found != nil
}

// Validate checks match state, turn order and square bounds. Piece rules are
// not evaluated.
func (e *Engine) Validate(id string, userID int64, from, to Square) error {
	m, ok := e.matches[id]
	if !ok {
		return ErrNotFound
	}
	if !m.Active {
		return ErrEnded
	}
	if m.SideToMove() != userID {
		return ErrNotYourTurn
	}
	if !from.Valid() || !to.Valid() {
		return ErrOutOfBounds
	}
	if from == to {
		return ErrSamePosition
	}
	return nil
}

func (e *Engine) elapsedMs(m *Match) int {
	d := e.clock.Since(m.LastMoveAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Millisecond)
}

// UpdateTimer charges the side to move for the time since the last move.
func (e *Engine) UpdateTimer(id string) bool {
	m, ok := e.matches[id]
	if !ok || !m.Active {
		return false
	}
	elapsed := e.elapsedMs(m)
	if m.CurrentTurn() == Red {
		m.RedTimeMs = max(m.RedTimeMs-elapsed, 0)
	} else {
		m.BlackTimeMs = max(m.BlackTimeMs-elapsed, 0)
	}
	m.LastMoveAt = e.clock.Now()
	return true
}

// CheckTimeout reports whether the side to move has no time left. It does not
// charge elapsed time; call UpdateTimer first.
func (e *Engine) CheckTimeout(id string) bool {
	m, ok := e.matches[id]
	if !ok || !m.Active {
		return false
	}
	return exhausted(m)
}

func exhausted(m *Match) bool {
	if m.CurrentTurn() == Red {
		return m.RedTimeMs <= 0
	}
	return m.BlackTimeMs <= 0
}

// AddMove appends a move, records the clock snapshot and restores both clocks
// to the initial allotment.
func (e *Engine) AddMove(id string, mv Move) (*Match, error) {
	m, ok := e.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.Active {
		return nil, ErrEnded
	}
	if len(m.Moves) >= e.maxMoves {
		return nil, ErrMoveLimit
	}
	now := e.clock.Now()
	mv.MoveID = len(m.Moves) + 1
	mv.Timestamp = now
	mv.RedTimeMs = m.RedTimeMs
	mv.BlackTimeMs = m.BlackTimeMs
	m.Moves = append(m.Moves, mv)
	m.LastMoveAt = now
	// 클럭은 매 수마다 초기값으로 복원된다
	m.RedTimeMs = m.InitialTimeMs
	m.BlackTimeMs = m.InitialTimeMs
	return m, nil
}

// End finishes a match. It is terminal: ending twice returns ErrEnded.
func (e *Engine) End(id, result, reason string) (*Match, error) {
	m, ok := e.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.Active {
		return nil, ErrEnded
	}
	m.Active = false
	m.Result = result
	m.EndReason = reason
	m.EndedAt = e.clock.Now()
	obslog.L().Info("match_end",
		zap.String("match_id", id),
		zap.String("result", result),
		zap.String("reason", reason),
		zap.Int("moves", len(m.Moves)),
	)
	return m, nil
}

// Expire ends a match whose side to move is out of time and queues it for
// DrainTimeouts. It reports whether the match was ended.
func (e *Engine) Expire(id string) bool {
	m, ok := e.matches[id]
	if !ok || !m.Active || !exhausted(m) {
		return false
	}
	e.timeout(m)
	return true
}

func (e *Engine) timeout(m *Match) {
	winner := Black
	if m.CurrentTurn() == Black {
		winner = Red
	}
	result := WinnerResult(winner)
	if _, err := e.End(m.ID, result, "timeout"); err != nil {
		return
	}
	e.pending = append(e.pending, TimeoutInfo{
		MatchID: m.ID,
		Result:  result,
		RedID:   m.RedID,
		BlackID: m.BlackID,
		Rated:   m.Rated,
	})
}

// CheckAllTimeouts charges elapsed time on every active match and ends those
// whose side to move has run out. It returns how many were ended.
func (e *Engine) CheckAllTimeouts() int {
	n := 0
	for id, m := range e.matches {
		if !m.Active {
			continue
		}
		e.UpdateTimer(id)
		if exhausted(m) {
			e.timeout(m)
			n++
		}
	}
	return n
}

// DrainTimeouts hands over the queued timeout endings and clears the queue.
func (e *Engine) DrainTimeouts() []TimeoutInfo {
	out := e.pending
	e.pending = nil
	return out
}

// AddSpectator registers userID as a spectator. Re-adding is a no-op.
func (e *Engine) AddSpectator(id string, userID int64) error {
	m, ok := e.matches[id]
	if !ok {
		return ErrNotFound
	}
	if !m.Active {
		return ErrEnded
	}
	if m.HasSpectator(userID) {
		return nil
	}
	if len(m.Spectators) >= e.maxSpectators {
		return ErrSpectatorsFull
	}
	m.Spectators = append(m.Spectators, userID)
	return nil
}

func (e *Engine) RemoveSpectator(id string, userID int64) bool {
	m, ok := e.matches[id]
	if !ok {
		return false
	}
	for i, s := range m.Spectators {
		if s == userID {
			m.Spectators = append(m.Spectators[:i], m.Spectators[i+1:]...)
			return true
		}
	}
	return false
}

// DropSpectator removes userID from every spectator set.
func (e *Engine) DropSpectator(userID int64) int {
	n := 0
	for id := range e.matches {
		if e.RemoveSpectator(id, userID) {
			n++
		}
	}
	return n
}

// RekeySpectator moves every spectator entry held under from to to. A match
// that already lists to just drops from.
func (e *Engine) RekeySpectator(from, to int64) int {
	if from == to {
		return 0
	}
	n := 0
	for _, m := range e.matches {
		for i, s := range m.Spectators {
			if s != from {
				continue
			}
			if m.HasSpectator(to) {
				m.Spectators = append(m.Spectators[:i], m.Spectators[i+1:]...)
			} else {
				m.Spectators[i] = to
			}
			n++
			break
		}
	}
	return n
}

// Live lists active matches, oldest first.
func (e *Engine) Live() []LiveView {
	out := make([]LiveView, 0, len(e.matches))
	for _, m := range e.matches {
		if !m.Active {
			continue
		}
		out = append(out, LiveView{
			MatchID:        m.ID,
			RedUserID:      m.RedID,
			BlackUserID:    m.BlackID,
			MoveCount:      len(m.Moves),
			SpectatorCount: len(m.Spectators),
			CurrentTurn:    m.CurrentTurn(),
			StartedAt:      m.StartedAt.Unix(),
		})
	}
	sortLive(out)
	return out
}

func sortLive(v []LiveView) {
	sort.Slice(v, func(i, j int) bool {
		if v[i].StartedAt != v[j].StartedAt {
			return v[i].StartedAt < v[j].StartedAt
		}
		return v[i].MatchID < v[j].MatchID
	})
}

// Timer returns the clocks as they stand now without mutating the match.
func (e *Engine) Timer(id string) (TimerView, bool) {
	m, ok := e.matches[id]
	if !ok {
		return TimerView{}, false
	}
	v := TimerView{
		MatchID:     m.ID,
		RedTimeMs:   m.RedTimeMs,
		BlackTimeMs: m.BlackTimeMs,
		CurrentTurn: m.CurrentTurn(),
		Active:      m.Active,
	}
	if m.Active {
		elapsed := e.elapsedMs(m)
		if v.CurrentTurn == Red {
			v.RedTimeMs = max(v.RedTimeMs-elapsed, 0)
		} else {
			v.BlackTimeMs = max(v.BlackTimeMs-elapsed, 0)
		}
	}
	return v, true
}

// MovesView returns the compact move list.
func MovesView(m *Match) []MoveView {
	out := make([]MoveView, 0, len(m.Moves))
	for _, mv := range m.Moves {
		out = append(out, MoveView{MoveID: mv.MoveID, From: mv.From, To: mv.To})
	}
	return out
}

// SnapshotOf builds the match_data object.
func SnapshotOf(m *Match) Snapshot {
	return Snapshot{
		MatchID:     m.ID,
		RedUserID:   m.RedID,
		BlackUserID: m.BlackID,
		RedTimeMs:   m.RedTimeMs,
		BlackTimeMs: m.BlackTimeMs,
		Result:      m.Result,
		Moves:       MovesView(m),
	}
}

// EvictEnded drops ended matches that finished more than olderThan ago.
func (e *Engine) EvictEnded(olderThan time.Duration) int {
	cutoff := e.clock.Now().Add(-olderThan)
	n := 0
	for id, m := range e.matches {
		if !m.Active && m.EndedAt.Before(cutoff) {
			delete(e.matches, id)
			n++
		}
	}
	return n
}

// LoadFrom makes id resident, reading it from p when it is not already in
// the table. Only active snapshots are accepted.
func (e *Engine) LoadFrom(ctx context.Context, p Persister, id string) (*Match, error) {
	if m, ok := e.matches[id]; ok {
		return m, nil
	}
	if p == nil {
		return nil, ErrNotFound
	}
	m, err := p.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", id, err)
	}
	if m == nil || !m.Active {
		return nil, ErrNotFound
	}
	if e.ActiveCount() >= e.maxMatches {
		return nil, ErrCapacity
	}
	m.Spectators = nil
	e.matches[m.ID] = m
	obslog.L().Info("match_restore", zap.String("match_id", m.ID), zap.Int("moves", len(m.Moves)))
	return m, nil
}
