package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps refresh tokens in Redis with a native expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put stores token for subject, replacing any previous one.
func (s *RedisStore) Put(ctx context.Context, subject, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, Key(subject), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// Get returns the stored token for subject.
func (s *RedisStore) Get(ctx context.Context, subject string) (string, bool, error) {
	val, err := s.client.Get(ctx, Key(subject)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return val, true, nil
}

// Delete removes the token for subject.
func (s *RedisStore) Delete(ctx context.Context, subject string) error {
	if err := s.client.Del(ctx, Key(subject)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of the stored token, or zero if absent.
func (s *RedisStore) TTL(ctx context.Context, subject string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, Key(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read refresh token ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// HealthCheck checks if Redis is reachable
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
