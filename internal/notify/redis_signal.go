// Package notify carries the "work is pending" hint from producers to idle
// workers over Redis. Postgres remains the source of truth: a lost or
// duplicated signal only changes how soon a worker polls.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carbon-reports/internal/config"
)

// RedisSignal is a bounded Redis list used as a wake-up channel.
type RedisSignal struct {
	client redis.Cmdable
	key    string
	max    int64
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewRedisSignal(client redis.Cmdable, key string) *RedisSignal {
	if key == "" {
		key = "reports:wakeup"
	}
	return &RedisSignal{client: client, key: key, max: 64}
}

// Notify pushes one token, trimming the list so a burst of enqueues without
// consumers cannot grow it without bound.
func (s *RedisSignal) Notify(ctx context.Context) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, time.Now().UnixMilli())
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notify %s: %w", s.key, err)
	}
	return nil
}

// Wait blocks until a token arrives or timeout passes. woke reports whether
// a token was consumed.
func (s *RedisSignal) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	_, err := s.client.BLPop(ctx, timeout, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("wait %s: %w", s.key, err)
	}
	return true, nil
}

// Drain discards queued tokens; a worker calls it before scanning the table
// so tokens for work it is about to see do not cause extra wake-ups.
func (s *RedisSignal) Drain(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Depth reports how many tokens are waiting.
func (s *RedisSignal) Depth(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}
