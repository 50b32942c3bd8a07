package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is a redis-backed KV for hosted deployments where sessions must
// survive process restarts and host moves.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redis at the given URL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*RedisKV, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient wraps an existing redis client.
func NewRedisWithClient(client *redis.Client) *RedisKV {
	return &RedisKV{
		client: client,
		prefix: "pruner:",
	}
}

func (s *RedisKV) key(key string) string {
	return s.prefix + key
}

// Get implements KV.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	storeOpsTotal.WithLabelValues("redis", "get").Inc()

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		storeErrorsTotal.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set implements KV. Session records have no TTL; they live until an
// explicit reset.
func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	storeOpsTotal.WithLabelValues("redis", "set").Inc()

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		storeErrorsTotal.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove implements KV.
func (s *RedisKV) Remove(ctx context.Context, key string) error {
	storeOpsTotal.WithLabelValues("redis", "remove").Inc()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		storeErrorsTotal.WithLabelValues("redis", "remove").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close implements KV.
func (s *RedisKV) Close() error {
	return s.client.Close()
}
