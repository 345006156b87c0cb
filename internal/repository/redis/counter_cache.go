package redis

import (
	"context"
	"time"

	"email-guard/internal/client"
)

const rateLimitPrefix = "rate-limit:"

// CounterCache backs the fixed-window rate limiters. Each limiter instance
// gets its own key namespace under its name.
type CounterCache struct {
	client *client.RedisClient
}

func NewCounterCache(client *client.RedisClient) *CounterCache {
	return &CounterCache{client: client}
}

// Increment bumps the window counter and returns the post-increment count
// plus the time until the window resets. The increment and the expiry are
// atomic for the first hit; later hits only read the remaining TTL.
func (c *CounterCache) Increment(ctx context.Context, name, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.client.IncrWindow(ctx, rateLimitPrefix+name+":"+key, window)
}
