package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memrepo is a development-only in-memory repository implementation used when no DB is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64
	now    func() time.Time

	users      map[int64]*User
	byUsername map[string]int64
	byEmail    map[string]int64
	matches    map[string]*MatchRecord
}

func NewMemoryRepository() Repository {
	return &memrepo{
		now:        time.Now,
		users:      make(map[int64]*User),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		matches:    make(map[string]*MatchRecord),
	}
}

func (m *memrepo) Close() error { return nil }

func (m *memrepo) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[username]; ok {
		return 0, ErrUsernameTaken
	}
	if _, ok := m.byEmail[strings.ToLower(email)]; ok {
		return 0, ErrEmailTaken
	}
	m.nextID++
	u := &User{
		ID:           m.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Rating:       1200,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	m.byUsername[username] = u.ID
	m.byEmail[strings.ToLower(email)] = u.ID
	return u.ID, nil
}

func (m *memrepo) UserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copy := *u
	return &copy, nil
}

func (m *memrepo) UserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	id, ok := m.byUsername[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return m.UserByID(ctx, id)
}

func (m *memrepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byUsername[username]
	return ok, nil
}

func (m *memrepo) EmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byEmail[strings.ToLower(email)]
	return ok, nil
}

func (m *memrepo) UpdateRatingStats(ctx context.Context, userID int64, rating int, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	w, l, d := outcome.counters()
	u.Rating = rating
	u.Wins += w
	u.Losses += l
	u.Draws += d
	return nil
}

func (m *memrepo) Leaderboard(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error) {
	m.mu.RLock()
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	m.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool {
		if users[i].Rating != users[j].Rating {
			return users[i].Rating > users[j].Rating
		}
		return users[i].ID < users[j].ID
	})
	out := []LeaderboardEntry{}
	for _, u := range window(len(users), limit, offset) {
		x := users[u]
		out = append(out, LeaderboardEntry{Username: x.Username, Rating: x.Rating, Wins: x.Wins, Losses: x.Losses, Draws: x.Draws})
	}
	return out, nil
}

func (m *memrepo) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if rec == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *rec
	if u, ok := m.users[rec.RedID]; ok {
		copy.RedName = u.Username
	}
	if u, ok := m.users[rec.BlackID]; ok {
		copy.BlackName = u.Username
	}
	m.matches[rec.MatchID] = &copy
	return nil
}

func (m *memrepo) MatchRecord(ctx context.Context, matchID string) (*MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.matches[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	copy := *rec
	return &copy, nil
}

func (m *memrepo) MatchHistory(ctx context.Context, userID int64, limit, offset int) ([]HistoryEntry, error) {
	m.mu.RLock()
	var items []*MatchRecord
	for _, rec := range m.matches {
		if rec.RedID == userID || rec.BlackID == userID {
			items = append(items, rec)
		}
	}
	m.mu.RUnlock()
	// Sort by EndedAt desc (fallback to match id)
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].MatchID > items[j].MatchID
	})
	out := []HistoryEntry{}
	for _, i := range window(len(items), limit, offset) {
		out = append(out, historyEntry(userID, items[i]))
	}
	return out, nil
}

// window returns the indexes of [offset, offset+limit) clipped to n.
func window(n, limit, offset int) []int {
	if offset < 0 {
		offset = 0
	}
	end := n
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	var idx []int
	for i := offset; i < end; i++ {
		idx = append(idx, i)
	}
	return idx
}
