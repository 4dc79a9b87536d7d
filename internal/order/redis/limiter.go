package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis throttles guest order lookups with a fixed window counter per client.
type Redis struct {
	Client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{Client: client, limit: int64(limit), window: window}
}

func lookupKey(client string) string {
	return "order_lookup:" + client
}

// AllowLookup counts one lookup for client and reports whether it is within the window's limit.
func (r *Redis) AllowLookup(ctx context.Context, client string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	key := lookupKey(client)

	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("count lookup: %w", err)
	}
	if count == 1 {
		if err := r.Client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("expire lookup window: %w", err)
		}
	}
	return count <= r.limit, nil
}
