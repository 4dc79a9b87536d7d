package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestAllowLookup_FixedWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := r.AllowLookup(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "lookup %d should be allowed", i+1)
	}

	ok, err := r.AllowLookup(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok, "fourth lookup in the window should be throttled")

	ok, err = r.AllowLookup(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "other clients have their own window")

	mr.FastForward(time.Minute + time.Second)

	ok, err = r.AllowLookup(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "window should reset after expiry")
}

func TestAllowLookup_SetsTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, 10, 30*time.Second)

	_, err := r.AllowLookup(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("order_lookup:c1"))
}

func TestAllowLookup_DisabledLimit(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, 0, time.Minute)

	ok, err := r.AllowLookup(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("order_lookup:c1"))
}

func TestAllowLookup_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, 3, time.Minute)
	mr.Close()

	_, err := r.AllowLookup(context.Background(), "c1")
	assert.Error(t, err)
}
