package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisStore implements Store on top of a go-redis client. Every operation
// is bounded by opTimeout so a slow Redis cannot stall a submission.
type RedisStore struct {
	client    redis.UniversalClient
	opTimeout time.Duration
}

// NewRedisStore wraps client. opTimeout <= 0 defaults to 250ms.
func NewRedisStore(client redis.UniversalClient, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &RedisStore{client: client, opTimeout: opTimeout}
}

func (s *RedisStore) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

// Expire implements Store.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// TTL implements Store. go-redis reports -2 (missing) and -1 (no expiry)
// as raw durations rather than seconds.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return NoExpiry, nil
	}
	return d, nil
}

// Del implements Store.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// SAdd implements Store.
func (s *RedisStore) SAdd(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return n > 0, nil
}

// SCard implements Store.
func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard %s: %w", key, err)
	}
	return n, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
