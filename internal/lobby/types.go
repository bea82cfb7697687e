package lobby

import "time"

const (
	MaxReadyPlayers   = 100
	MaxRooms          = 50
	MaxChallenges     = 100
	ChallengeLifetime = 60 * time.Second
	DefaultTolerance  = 200
)

// Entry is one user waiting in the ready queue.
type Entry struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Rating     int       `json:"rating"`
	ReadySince time.Time `json:"-"`
}

// Room is a private table opened by a host and waiting for one guest.
type Room struct {
	Code      string
	HostID    int64
	HostName  string
	GuestID   int64
	Password  string
	Rated     bool
	CreatedAt time.Time
}

func (r *Room) HasGuest() bool { return r.GuestID != 0 }

// RoomView is the public listing form of a room. The password never leaves.
type RoomView struct {
	RoomCode    string `json:"room_code"`
	HostID      int64  `json:"host_id"`
	HostName    string `json:"host_name"`
	HasPassword bool   `json:"has_password"`
	Rated       bool   `json:"rated"`
	HasGuest    bool   `json:"has_guest"`
}

// LeaveResult tells the caller who to notify after a departure.
type LeaveResult struct {
	Code     string
	HostLeft bool  // room destroyed
	NotifyID int64 // guest when the host left, host when the guest left; 0 if nobody
}

type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeAccepted ChallengeStatus = "accepted"
	ChallengeDeclined ChallengeStatus = "declined"
)

type Challenge struct {
	ID        string
	FromID    int64
	ToID      int64
	Rated     bool
	Status    ChallengeStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Errors
var (
	ErrQueueFull         = errf("ready queue is full")
	ErrRoomsFull         = errf("room table is full")
	ErrRoomNotFound      = errf("room not found")
	ErrWrongPassword     = errf("wrong room password")
	ErrRoomFull          = errf("room already has a guest")
	ErrOwnRoom           = errf("cannot join own room")
	ErrNotInRoom         = errf("user is not in this room")
	ErrSelfChallenge     = errf("cannot challenge yourself")
	ErrChallengesFull    = errf("challenge table is full")
	ErrChallengeNotFound = errf("challenge not found")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
