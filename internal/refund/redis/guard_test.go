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

func setupGuard(t *testing.T, ttl time.Duration) (*Guard, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewGuard(client, ttl), mr
}

func TestGuardIsExclusive(t *testing.T) {
	g, mr := setupGuard(t, time.Minute)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Acquire(ctx, "key-2")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("refund_inflight:key-1"))
	assert.Equal(t, time.Minute, mr.TTL("refund_inflight:key-1"))
}

func TestGuardReleaseAndExpiry(t *testing.T) {
	g, mr := setupGuard(t, time.Minute)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Release(ctx, "key-1"))

	ok, err = g.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = g.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardRedisDown(t *testing.T) {
	g, mr := setupGuard(t, time.Minute)
	mr.Close()

	ok, err := g.Acquire(context.Background(), "key-1")
	assert.Error(t, err)
	assert.False(t, ok)
}
