// Package redisstore implements interfaces.SharedStore against Redis, the
// small cross-process KV store §4.11 uses for rate-limit coordination.
// Grounded on aceteam-ai-citadel-cli's internal/redis client (one wrapper
// struct around *redis.Client, config-constructed, context-first methods).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a *redis.Client as an interfaces.SharedStore.
type Store struct {
	client *redis.Client
}

// Open parses redisURL (redis://[:password@]host:port/db) and returns a
// connected Store.
func Open(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &Store{client: client}, nil
}

// New wraps an already-constructed client, primarily for tests against
// miniredis.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Incr atomically increments key and refreshes its TTL.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return incr.Val(), nil
}
