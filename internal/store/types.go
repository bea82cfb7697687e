package store

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrMatchNotFound = errors.New("match record not found")
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already exists")
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Rating       int
	Wins         int
	Losses       int
	Draws        int
	CreatedAt    time.Time
}

func (u *User) TotalMatches() int { return u.Wins + u.Losses + u.Draws }

// WinRate is wins over total games as a percentage, one decimal place.
func (u *User) WinRate() float64 {
	total := u.TotalMatches()
	if total == 0 {
		return 0
	}
	pct := float64(u.Wins) / float64(total) * 100
	return float64(int(pct*10+0.5)) / 10
}

// Outcome is a per-user game result for stat bookkeeping.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeWin
	OutcomeLoss
	OutcomeDraw
)

func (o Outcome) counters() (w, l, d int) {
	switch o {
	case OutcomeWin:
		return 1, 0, 0
	case OutcomeLoss:
		return 0, 1, 0
	case OutcomeDraw:
		return 0, 0, 1
	}
	return 0, 0, 0
}

// MatchRecord is a finished game as archived for history queries.
type MatchRecord struct {
	MatchID   string
	RedID     int64
	BlackID   int64
	RedName   string
	BlackName string
	Result    string
	Reason    string
	Moves     json.RawMessage
	StartedAt time.Time
	EndedAt   time.Time
}

// HistoryEntry is one archived game from a given user's point of view.
type HistoryEntry struct {
	MatchID   string `json:"match_id"`
	Opponent  string `json:"opponent"`
	MyColor   string `json:"my_color"`
	Result    string `json:"result"`
	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at"`
}

type LeaderboardEntry struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Draws    int    `json:"draws"`
}

// historyEntry derives the per-user view of an archived game.
func historyEntry(userID int64, rec *MatchRecord) HistoryEntry {
	h := HistoryEntry{
		MatchID:   rec.MatchID,
		Opponent:  rec.RedName,
		MyColor:   "black",
		Result:    "unknown",
		StartedAt: rec.StartedAt.Unix(),
		EndedAt:   rec.EndedAt.Unix(),
	}
	isRed := userID == rec.RedID
	if isRed {
		h.Opponent, h.MyColor = rec.BlackName, "red"
	}
	switch rec.Result {
	case "red_win":
		h.Result = pick(isRed, "win", "loss")
	case "black_win":
		h.Result = pick(!isRed, "win", "loss")
	case "draw":
		h.Result = "draw"
	}
	return h
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
