package match

import (
	"errors"
	"time"
)

// Color identifies a Xiangqi side.
type Color string

const (
	Red   Color = "red"
	Black Color = "black"
)

// Match results.
const (
	ResultOngoing  = "ongoing"
	ResultRedWin   = "red_win"
	ResultBlackWin = "black_win"
	ResultDraw     = "draw"
	ResultAborted  = "aborted"
)

// Board and table limits.
const (
	BoardRows             = 10
	BoardCols             = 9
	MaxMatches            = 500
	MaxMovesPerMatch      = 300
	MaxSpectatorsPerMatch = 50
	DefaultTimeMs         = 600000
)

var (
	ErrCapacity       = errors.New("match table full")
	ErrNotFound       = errors.New("match not found")
	ErrEnded          = errors.New("match ended")
	ErrNotPlayer      = errors.New("not a player in this match")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrOutOfBounds    = errors.New("position out of bounds")
	ErrSamePosition   = errors.New("from and to are the same square")
	ErrMoveLimit      = errors.New("move limit reached")
	ErrSpectatorsFull = errors.New("spectator limit reached")
)

// Square is a board coordinate: row 0..9, col 0..8.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < BoardRows && s.Col >= 0 && s.Col < BoardCols
}

// Move is one entry of the append-only move log.
type Move struct {
	MoveID      int       `json:"move_id"`
	From        Square    `json:"from"`
	To          Square    `json:"to"`
	Piece       string    `json:"piece,omitempty"`
	Capture     string    `json:"capture,omitempty"`
	Notation    string    `json:"notation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RedTimeMs   int       `json:"red_time_ms"`
	BlackTimeMs int       `json:"black_time_ms"`
}

// Match is the authoritative state of one game. Spectators are not persisted.
type Match struct {
	ID            string    `json:"match_id"`
	RedID         int64     `json:"red_user_id"`
	BlackID       int64     `json:"black_user_id"`
	Moves         []Move    `json:"moves"`
	RedTimeMs     int       `json:"red_time_ms"`
	BlackTimeMs   int       `json:"black_time_ms"`
	InitialTimeMs int       `json:"initial_time_ms"`
	Rated         bool      `json:"rated"`
	StartedAt     time.Time `json:"started_at"`
	LastMoveAt    time.Time `json:"last_move_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	Active        bool      `json:"active"`
	Result        string    `json:"result"`
	EndReason     string    `json:"end_reason,omitempty"`
	Spectators    []int64   `json:"-"`
	// RematchFrom is the player with an open rematch request, or 0.
	RematchFrom int64 `json:"-"`
}

// CurrentTurn is derived from move-log parity: even means red to move.
func (m *Match) CurrentTurn() Color {
	if len(m.Moves)%2 == 0 {
		return Red
	}
	return Black
}

// ColorOf returns the side a user plays, or "" for non-players.
func (m *Match) ColorOf(userID int64) Color {
	switch userID {
	case m.RedID:
		return Red
	case m.BlackID:
		return Black
	}
	return ""
}

func (m *Match) IsPlayer(userID int64) bool { return m.ColorOf(userID) != "" }

// Opponent returns the other player's id, or 0 for non-players.
func (m *Match) Opponent(userID int64) int64 {
	switch userID {
	case m.RedID:
		return m.BlackID
	case m.BlackID:
		return m.RedID
	}
	return 0
}

// SideToMove returns the user id whose turn it is.
func (m *Match) SideToMove() int64 {
	if m.CurrentTurn() == Red {
		return m.RedID
	}
	return m.BlackID
}

func (m *Match) HasSpectator(userID int64) bool {
	for _, id := range m.Spectators {
		if id == userID {
			return true
		}
	}
	return false
}

// Audience lists both players followed by spectators.
func (m *Match) Audience() []int64 {
	out := make([]int64, 0, 2+len(m.Spectators))
	out = append(out, m.RedID, m.BlackID)
	return append(out, m.Spectators...)
}

// WinnerResult maps a winning color to its result string.
func WinnerResult(c Color) string {
	if c == Red {
		return ResultRedWin
	}
	return ResultBlackWin
}

// TimeoutInfo is queued by the timeout sweep for the caller to finalize.
type TimeoutInfo struct {
	MatchID string
	Result  string
	RedID   int64
	BlackID int64
	Rated   bool
}

// LiveView is one row of the live match list.
type LiveView struct {
	MatchID        string `json:"match_id"`
	RedUserID      int64  `json:"red_user_id"`
	BlackUserID    int64  `json:"black_user_id"`
	MoveCount      int    `json:"move_count"`
	SpectatorCount int    `json:"spectator_count"`
	CurrentTurn    Color  `json:"current_turn"`
	StartedAt      int64  `json:"started_at"`
}

// TimerView is the clock state with the running side's elapsed time applied.
type TimerView struct {
	MatchID     string `json:"match_id"`
	RedTimeMs   int    `json:"red_time_ms"`
	BlackTimeMs int    `json:"black_time_ms"`
	CurrentTurn Color  `json:"current_turn"`
	Active      bool   `json:"active"`
}

// MoveView is the compact move form used in snapshots and history.
type MoveView struct {
	MoveID int    `json:"move_id,omitempty"`
	From   Square `json:"from"`
	To     Square `json:"to"`
}

// Snapshot is the match_data object handed to spectators and get_match.
type Snapshot struct {
	MatchID     string     `json:"match_id"`
	RedUserID   int64      `json:"red_user_id"`
	BlackUserID int64      `json:"black_user_id"`
	RedTimeMs   int        `json:"red_time_ms"`
	BlackTimeMs int        `json:"black_time_ms"`
	Result      string     `json:"result"`
	Moves       []MoveView `json:"moves"`
}
