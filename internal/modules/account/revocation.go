package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList remembers logged-out tokens until they would have expired.
type RevocationList interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type MemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{revoked: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, token string, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.revoked {
		if !exp.After(now) {
			delete(l.revoked, k)
		}
	}
	if until.After(now) {
		l.revoked[tokenKey(token)] = until
	}
	return nil
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.revoked[tokenKey(token)]
	return ok && exp.After(l.now()), nil
}

const revokedKeyPrefix = "auth:revoked:"

type RedisRevocationList struct {
	redis *redis.Client
}

func NewRedisRevocationList(redis *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{redis: redis}
}

func (l *RedisRevocationList) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return l.redis.Set(ctx, revokedKeyPrefix+tokenKey(token), 1, ttl).Err()
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := l.redis.Exists(ctx, revokedKeyPrefix+tokenKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
