package match

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlActiveMatch = 24 * time.Hour

// Store keeps active-match snapshots in Redis so a restarted server can
// resume them on join_match.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyMatch(id string) string { return "xq:match:" + strings.TrimSpace(id) }
func (s *Store) keyActive() string         { return "xq:match:active" }

func (s *Store) Persist(ctx context.Context, m *Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyMatch(m.ID), raw, ttlActiveMatch)
	pipe.SAdd(ctx, s.keyActive(), m.ID)
	pipe.Expire(ctx, s.keyActive(), ttlActiveMatch)
	_, err = pipe.Exec(ctx)
	return err
}

// Load returns nil, nil when no snapshot exists.
func (s *Store) Load(ctx context.Context, id string) (*Match, error) {
	raw, err := s.rdb.Get(ctx, s.keyMatch(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyMatch(id))
	pipe.SRem(ctx, s.keyActive(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveIDs lists snapshot ids whose payload has not expired. Stale set
// members are pruned.
func (s *Store) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyActive()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.rdb.Exists(ctx, s.keyMatch(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = s.rdb.SRem(ctx, s.keyActive(), id).Err()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
