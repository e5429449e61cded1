// Package dedupe records keys that have already been processed so that
// at-least-once deliveries can be acknowledged without being applied twice.
package dedupe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 72 * time.Hour

// Store claims keys for a limited time.
type Store interface {
	// Claim records key until ttl elapses. It returns false when the key was
	// already claimed and has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a later delivery can claim it again.
	Release(ctx context.Context, key string) error
}

// MemoryStore is a process-local Store for tests and single-instance setups.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("dedupe: key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.keys {
		if !exp.After(now) {
			delete(s.keys, k)
		}
	}
	if exp, ok := s.keys[key]; ok && exp.After(now) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

// RedisStore shares claims between instances through SET NX.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dedupe"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient opens a client for addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("dedupe: key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.SetNX(ctx, s.key(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
