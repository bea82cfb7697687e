package lobby

func (l *Lobby) indexOf(userID int64) int {
	for i, e := range l.ready {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}

// SetReady adds, refreshes or removes a user. A user already queued keeps
// their position; only name and rating are updated.
func (l *Lobby) SetReady(entry Entry, ready bool) error {
	i := l.indexOf(entry.UserID)
	if !ready {
		if i >= 0 {
			l.removeAt(i)
		}
		return nil
	}
	if i >= 0 {
		l.ready[i].Username = entry.Username
		l.ready[i].Rating = entry.Rating
		return nil
	}
	if len(l.ready) >= l.maxReady {
		return ErrQueueFull
	}
	entry.ReadySince = l.clock.Now()
	l.ready = append(l.ready, &entry)
	return nil
}

func (l *Lobby) removeAt(i int) {
	l.ready = append(l.ready[:i], l.ready[i+1:]...)
}

// Remove drops a user from the queue. It reports whether they were queued.
func (l *Lobby) Remove(userID int64) bool {
	if i := l.indexOf(userID); i >= 0 {
		l.removeAt(i)
		return true
	}
	return false
}

func (l *Lobby) IsReady(userID int64) bool { return l.indexOf(userID) >= 0 }

// List returns a copy of the queue in insertion order.
func (l *Lobby) List() []Entry {
	out := make([]Entry, 0, len(l.ready))
	for _, e := range l.ready {
		out = append(out, *e)
	}
	return out
}

// ReadyIDs returns queued user ids in insertion order.
func (l *Lobby) ReadyIDs() []int64 {
	out := make([]int64, 0, len(l.ready))
	for _, e := range l.ready {
		out = append(out, e.UserID)
	}
	return out
}

// FindRandomMatch pairs userID with the earliest other queued user and
// removes both from the queue.
func (l *Lobby) FindRandomMatch(userID int64) (Entry, bool) {
	for _, e := range l.ready {
		if e.UserID != userID {
			found := *e
			l.Remove(found.UserID)
			l.Remove(userID)
			return found, true
		}
	}
	return Entry{}, false
}

// FindRatedMatch pairs userID with the queued user whose rating is closest
// to rating within tolerance. Ties go to the earlier entry. Both are removed.
func (l *Lobby) FindRatedMatch(userID int64, rating, tolerance int) (Entry, bool) {
	best := -1
	bestDiff := 0
	for i, e := range l.ready {
		if e.UserID == userID {
			continue
		}
		diff := e.Rating - rating
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			continue
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return Entry{}, false
	}
	found := *l.ready[best]
	l.Remove(found.UserID)
	l.Remove(userID)
	return found, true
}
