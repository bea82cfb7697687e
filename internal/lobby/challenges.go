package lobby

import "github.com/google/uuid"

func (l *Lobby) CreateChallenge(fromID, toID int64, rated bool) (*Challenge, error) {
	if fromID == toID {
		return nil, ErrSelfChallenge
	}
	if len(l.challenges) >= l.maxChallenges {
		return nil, ErrChallengesFull
	}
	now := l.clock.Now()
	c := &Challenge{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Rated:     rated,
		Status:    ChallengePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ChallengeLifetime),
	}
	l.challenges[c.ID] = c
	return c, nil
}

// AcceptChallenge succeeds only for the recipient of a pending, unexpired
// challenge. Every other case reports ErrChallengeNotFound.
func (l *Lobby) AcceptChallenge(id string, userID int64) (*Challenge, error) {
	c, ok := l.challenges[id]
	if !ok || c.ToID != userID || c.Status != ChallengePending || !l.clock.Now().Before(c.ExpiresAt) {
		return nil, ErrChallengeNotFound
	}
	c.Status = ChallengeAccepted
	delete(l.challenges, id)
	return c, nil
}

// DeclineChallenge erases the challenge. Only the recipient may decline.
func (l *Lobby) DeclineChallenge(id string, userID int64) error {
	c, ok := l.challenges[id]
	if !ok || c.ToID != userID {
		return ErrChallengeNotFound
	}
	c.Status = ChallengeDeclined
	delete(l.challenges, id)
	return nil
}

func (l *Lobby) Challenge(id string) (*Challenge, bool) {
	c, ok := l.challenges[id]
	return c, ok
}

// CleanupExpiredChallenges drops challenges past their expiry.
func (l *Lobby) CleanupExpiredChallenges() int {
	now := l.clock.Now()
	n := 0
	for id, c := range l.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(l.challenges, id)
			n++
		}
	}
	return n
}
