// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T, cfg RedisConfig) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := newRedisWithClient(client, cfg, zerolog.Nop())
	q.poll = 50 * time.Millisecond
	return mr, q
}

func testFIFO(t *testing.T, q Queue) {
	t.Helper()
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, Task{MovieID: i, SourceURL: "s", RequestID: "r"}))
	}
	for i := int64(1); i <= 3; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, got.MovieID)
		assert.Equal(t, "r", got.RequestID)
	}
}

func testDequeueHonorsContext(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestMemory_FIFO(t *testing.T) {
	testFIFO(t, NewMemory(8))
}

func TestMemory_DequeueHonorsContext(t *testing.T) {
	testDequeueHonorsContext(t, NewMemory(8))
}

func TestMemory_Full(t *testing.T) {
	q := NewMemory(1)
	require.NoError(t, q.Enqueue(context.Background(), Task{MovieID: 1}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), Task{MovieID: 2}), ErrFull)
	assert.Equal(t, 1, q.Len())
}

func TestMemory_CloseWakesConsumers(t *testing.T) {
	q := NewMemory(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	require.NoError(t, q.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by Close")
	}
	assert.ErrorIs(t, q.Enqueue(context.Background(), Task{}), ErrClosed)
	require.NoError(t, q.Close(), "close is idempotent")
}

func TestRedis_FIFO(t *testing.T) {
	_, q := setupMiniRedis(t, RedisConfig{Key: "test:dispatch"})
	testFIFO(t, q)
}

func TestRedis_DequeueHonorsContext(t *testing.T) {
	_, q := setupMiniRedis(t, RedisConfig{})
	testDequeueHonorsContext(t, q)
}

func TestRedis_SharedAcrossProducers(t *testing.T) {
	mr, consumer := setupMiniRedis(t, RedisConfig{Key: "shared"})
	producerClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = producerClient.Close() }()
	producer := newRedisWithClient(producerClient, RedisConfig{Key: "shared"}, zerolog.Nop())

	require.NoError(t, producer.Enqueue(context.Background(), Task{MovieID: 42}))
	got, err := consumer.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.MovieID)
}

func TestRedis_MaxLen(t *testing.T) {
	_, q := setupMiniRedis(t, RedisConfig{MaxLen: 1})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{MovieID: 1}))
	assert.ErrorIs(t, q.Enqueue(ctx, Task{MovieID: 2}), ErrFull)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedis_SkipsUndecodable(t *testing.T) {
	mr, q := setupMiniRedis(t, RedisConfig{Key: "k"})
	_, err := mr.Lpush("k", "not json")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), Task{MovieID: 7}))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.MovieID)
}

func TestRedis_ClosedRejects(t *testing.T) {
	_, q := setupMiniRedis(t, RedisConfig{})
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Task{}), ErrClosed)
	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
