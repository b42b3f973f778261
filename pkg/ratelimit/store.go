package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key for the shared cooldown deadline, stored as unix nanoseconds.
const redisKeyCooldownUntil = "callrail:rate_limit:cooldown_until"

// CooldownStore persists the deadline of the active cooldown window.
type CooldownStore interface {
	// Deadline returns the current cooldown deadline. A zero time means
	// no cooldown is active.
	Deadline(ctx context.Context) (time.Time, error)

	// Extend moves the cooldown deadline to until, unless a later
	// deadline is already recorded.
	Extend(ctx context.Context, until time.Time) error
}

// MemoryStore keeps the cooldown deadline in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	until time.Time
}

// NewMemoryStore creates an empty in-process cooldown store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Deadline implements CooldownStore.
func (s *MemoryStore) Deadline(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.until, nil
}

// Extend implements CooldownStore.
func (s *MemoryStore) Extend(_ context.Context, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.until) {
		s.until = until
	}
	return nil
}

// RedisStore shares the cooldown deadline across extractor processes
// running against the same API key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed cooldown store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Deadline implements CooldownStore.
func (s *RedisStore) Deadline(ctx context.Context) (time.Time, error) {
	val, err := s.client.Get(ctx, redisKeyCooldownUntil).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get cooldown deadline: %w", err)
	}

	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cooldown deadline: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// Extend implements CooldownStore.
func (s *RedisStore) Extend(ctx context.Context, until time.Time) error {
	current, err := s.Deadline(ctx)
	if err != nil {
		return err
	}
	if !until.After(current) {
		return nil
	}

	// Key expires shortly after the window so stale deadlines never
	// linger in Redis.
	ttl := time.Until(until) + time.Minute
	if err := s.client.Set(ctx, redisKeyCooldownUntil, until.UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("store cooldown deadline: %w", err)
	}
	return nil
}
