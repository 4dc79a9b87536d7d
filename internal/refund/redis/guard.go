package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Guard marks a refund's provider call as in flight so two requests carrying the same
// idempotency key never drive the provider at once.
type Guard struct {
	Client *redis.Client
	ttl    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	return &Guard{Client: client, ttl: ttl}
}

func inflightKey(key string) string {
	return "refund_inflight:" + key
}

// Acquire reports whether the caller now owns the in-flight marker for key. The marker
// expires after the guard's TTL so a crashed holder cannot block re-drives forever.
func (g *Guard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.Client.SetNX(ctx, inflightKey(key), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire refund guard: %w", err)
	}
	return ok, nil
}

func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.Client.Del(ctx, inflightKey(key)).Err(); err != nil {
		return fmt.Errorf("release refund guard: %w", err)
	}
	return nil
}
