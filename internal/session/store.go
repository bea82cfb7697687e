// Package session maps bearer tokens to user ids. Sessions live in Redis so
// they survive a server restart.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
)

const (
	DefaultTTL = 24 * time.Hour
	tokenBytes = 32
	keyPrefix  = "xq:session:"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store struct {
	rdb   *redis.Client
	clock clockwork.Clock
	ttl   time.Duration
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, clock: clockwork.NewRealClock(), ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(token string) string { return keyPrefix + token }

// newToken returns 64 hex characters. When the system source fails it falls
// back to a time-derived token and logs a warning.
func (s *Store) newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err == nil {
		return hex.EncodeToString(b)
	}
	obslog.L().Warn("session_token_degraded", zap.String("source", "clock"))
	now := s.clock.Now().UnixNano()
	return fmt.Sprintf("%064x", uint64(now)^uint64(now>>17)*0x9e3779b97f4a7c15)
}

// Create issues a new session for userID.
func (s *Store) Create(ctx context.Context, userID int64) (string, error) {
	now := s.clock.Now()
	sess := Session{
		Token:     s.newToken(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, key(sess.Token), raw, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("session create: %w", err)
	}
	return sess.Token, nil
}

func (s *Store) load(ctx context.Context, token string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return &sess, nil
}

// Validate resolves a token. An expired session is deleted on sight.
func (s *Store) Validate(ctx context.Context, token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrNotFound
	}
	sess, err := s.load(ctx, token)
	if err != nil {
		return 0, err
	}
	if !s.clock.Now().Before(sess.ExpiresAt) {
		_ = s.rdb.Del(ctx, key(token)).Err()
		return 0, ErrExpired
	}
	return sess.UserID, nil
}

func (s *Store) Destroy(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, key(strings.TrimSpace(token))).Err()
}

// CleanupExpired deletes sessions whose expiry has passed. Redis TTLs cover
// the normal case; this catches entries written under a different clock.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		raw, err := s.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			// undecodable entries are dropped
			obslog.L().Warn("session_cleanup_decode", zap.String("key", k), zap.Error(err))
		} else if now.Before(sess.ExpiresAt) {
			continue
		}
		if err := s.rdb.Del(ctx, k).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
