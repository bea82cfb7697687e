package lobby

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// roomCode returns 8 uppercase hex characters.
func roomCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func (l *Lobby) CreateRoom(hostID int64, hostName, password string, rated bool) (*Room, error) {
	if len(l.rooms) >= l.maxRooms {
		return nil, ErrRoomsFull
	}
	code, err := roomCode()
	if err != nil {
		return nil, err
	}
	for l.rooms[code] != nil {
		if code, err = roomCode(); err != nil {
			return nil, err
		}
	}
	r := &Room{
		Code:      code,
		HostID:    hostID,
		HostName:  hostName,
		Password:  password,
		Rated:     rated,
		CreatedAt: l.clock.Now(),
	}
	l.rooms[code] = r
	return r, nil
}

// JoinRoom seats guestID in the room. A room with a guest rejects every
// joiner, even one holding the right password.
func (l *Lobby) JoinRoom(code string, guestID int64, password string) (*Room, error) {
	r, ok := l.rooms[normalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.HostID == guestID {
		return nil, ErrOwnRoom
	}
	if r.HasGuest() {
		return nil, ErrRoomFull
	}
	if r.Password != "" && subtle.ConstantTimeCompare([]byte(r.Password), []byte(password)) != 1 {
		return nil, ErrWrongPassword
	}
	r.GuestID = guestID
	return r, nil
}

// LeaveRoom applies departure rules: a leaving host destroys the room, a
// leaving guest frees the seat.
func (l *Lobby) LeaveRoom(code string, userID int64) (LeaveResult, error) {
	code = normalizeCode(code)
	r, ok := l.rooms[code]
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}
	switch {
	case userID == r.HostID:
		delete(l.rooms, code)
		return LeaveResult{Code: code, HostLeft: true, NotifyID: r.GuestID}, nil
	case r.HasGuest() && userID == r.GuestID:
		r.GuestID = 0
		return LeaveResult{Code: code, NotifyID: r.HostID}, nil
	}
	return LeaveResult{}, ErrNotInRoom
}

func (l *Lobby) Room(code string) (*Room, bool) {
	r, ok := l.rooms[normalizeCode(code)]
	return r, ok
}

func (l *Lobby) CloseRoom(code string) bool {
	code = normalizeCode(code)
	if _, ok := l.rooms[code]; !ok {
		return false
	}
	delete(l.rooms, code)
	return true
}

// Rooms lists rooms oldest first.
func (l *Lobby) Rooms() []RoomView {
	rs := make([]*Room, 0, len(l.rooms))
	for _, r := range l.rooms {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].Code < rs[j].Code
	})
	out := make([]RoomView, 0, len(rs))
	for _, r := range rs {
		out = append(out, RoomView{
			RoomCode:    r.Code,
			HostID:      r.HostID,
			HostName:    r.HostName,
			HasPassword: r.Password != "",
			Rated:       r.Rated,
			HasGuest:    r.HasGuest(),
		})
	}
	return out
}

// ReleaseUser makes userID leave every room they host or occupy.
func (l *Lobby) ReleaseUser(userID int64) []LeaveResult {
	var codes []string
	for code, r := range l.rooms {
		if r.HostID == userID || r.GuestID == userID {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	out := make([]LeaveResult, 0, len(codes))
	for _, code := range codes {
		if res, err := l.LeaveRoom(code, userID); err == nil {
			out = append(out, res)
		}
	}
	return out
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
