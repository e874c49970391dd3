package dynvoice

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(
		func() {
			_ = client.Close()
			mr.Close()
		},
	)
	return client, mr
}

func TestRedisControlMessages(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	store := newRedisControlMessages(client, "test", time.Hour)

	got, err := store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Set(ctx, "123", "msg1"))
	got, err = store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "msg1", got)
	assert.True(t, mr.Exists("test:123"))
	assert.Equal(t, time.Hour, mr.TTL("test:123"))

	require.NoError(t, store.Set(ctx, "123", "msg2"))
	got, err = store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "msg2", got)

	require.NoError(t, store.Delete(ctx, "123"))
	got, err = store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisControlMessages_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	store := newRedisControlMessages(client, "", time.Minute)
	assert.Equal(t, DefaultRedisKeyPrefix, store.prefix)

	require.NoError(t, store.Set(ctx, "123", "msg1"))
	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRedisClient(t *testing.T) {
	_, mr := setupTestRedis(t)
	client, err := newRedisClient(context.Background(), &RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	_, err = newRedisClient(context.Background(), &RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}

func TestMemoryControlMessages(t *testing.T) {
	ctx := context.Background()
	store := newMemoryControlMessages(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "123", "msg1"))
	got, err := store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "msg1", got)

	now = now.Add(2 * time.Minute)
	got, err = store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Set(ctx, "123", "msg2"))
	require.NoError(t, store.Delete(ctx, "123"))
	got, err = store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Empty(t, got)
}
