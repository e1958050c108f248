// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the list holding pending tasks.
	Key string
	// MaxLen caps the list; Enqueue returns ErrFull beyond it. Zero disables the cap.
	MaxLen int64
}

// Redis is a task list shared by every process pointing at the same key.
// Producers LPUSH, consumers BRPOP, so order is FIFO.
type Redis struct {
	client   *redis.Client
	key      string
	maxLen   int64
	poll     time.Duration
	logger   zerolog.Logger
	closed   atomic.Bool
	ownsConn bool
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Str("key", cfg.Key).
		Msg("connected to Redis dispatch queue")

	q := newRedisWithClient(client, cfg, logger)
	q.ownsConn = true
	return q, nil
}

func newRedisWithClient(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *Redis {
	key := cfg.Key
	if key == "" {
		key = "reelstream:dispatch"
	}
	return &Redis{
		client: client,
		key:    key,
		maxLen: cfg.MaxLen,
		poll:   time.Second,
		logger: logger,
	}
}

func (q *Redis) Enqueue(ctx context.Context, t Task) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("queue: llen: %w", err)
		}
		if n >= q.maxLen {
			return ErrFull
		}
	}
	buf, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, buf).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (Task, error) {
	for {
		if q.closed.Load() {
			return Task{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Task{}, ctxErr
			}
			if q.closed.Load() {
				return Task{}, ErrClosed
			}
			return Task{}, fmt.Errorf("queue: brpop: %w", err)
		}
		// BRPOP returns [key, value]
		if len(res) != 2 {
			continue
		}

		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			q.logger.Warn().Err(err).Str("event", "queue.bad_task").Msg("dropping undecodable task")
			continue
		}
		return t, nil
	}
}

// Len reports the number of waiting tasks.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *Redis) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if q.ownsConn {
		return q.client.Close()
	}
	return nil
}
