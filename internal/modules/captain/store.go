// README: Driver availability store backed by an in-memory set or a Redis set.
package captain

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/types"
)

const availableKey = "captains:available"

// Store tracks which drivers are currently willing to take rides. Drivers are
// unavailable until they toggle.
type Store interface {
	Toggle(ctx context.Context, id types.ID) (bool, error)
	SetAvailable(ctx context.Context, id types.ID, available bool) error
	IsAvailable(ctx context.Context, id types.ID) (bool, error)
	// AvailableAmong returns the subset of ids that are available, in input order.
	AvailableAmong(ctx context.Context, ids []types.ID) ([]types.ID, error)
}

type MemoryStore struct {
	mu        sync.Mutex
	available map[types.ID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{available: make(map[types.ID]struct{})}
}

func (s *MemoryStore) Toggle(_ context.Context, id types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.available[id]; ok {
		delete(s.available, id)
		return false, nil
	}
	s.available[id] = struct{}{}
	return true, nil
}

func (s *MemoryStore) SetAvailable(_ context.Context, id types.ID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if available {
		s.available[id] = struct{}{}
	} else {
		delete(s.available, id)
	}
	return nil
}

func (s *MemoryStore) IsAvailable(_ context.Context, id types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.available[id]
	return ok, nil
}

func (s *MemoryStore) AvailableAmong(_ context.Context, ids []types.ID) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.available[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// toggleScript flips set membership atomically and returns the new state.
var toggleScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
  redis.call("SREM", KEYS[1], ARGV[1])
  return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
return 1
`)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Toggle(ctx context.Context, id types.ID) (bool, error) {
	n, err := toggleScript.Run(ctx, s.redis, []string{availableKey}, string(id)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) SetAvailable(ctx context.Context, id types.ID, available bool) error {
	if available {
		return s.redis.SAdd(ctx, availableKey, string(id)).Err()
	}
	return s.redis.SRem(ctx, availableKey, string(id)).Err()
}

func (s *RedisStore) IsAvailable(ctx context.Context, id types.ID) (bool, error) {
	return s.redis.SIsMember(ctx, availableKey, string(id)).Result()
}

func (s *RedisStore) AvailableAmong(ctx context.Context, ids []types.ID) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}
	flags, err := s.redis.SMIsMember(ctx, availableKey, members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, 0, len(ids))
	for i, ok := range flags {
		if ok {
			out = append(out, ids[i])
		}
	}
	return out, nil
}
