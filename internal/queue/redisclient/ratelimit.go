package redisclient

import (
	"context"
	"time"
)

// Allow implements a fixed-window counter shared across API instances.
// The first INCR in a window sets the expiry; counts above the limit are
// rejected until the window key expires. Fails open: a redis outage must not
// lock everyone out of sign-in.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	full := "ratelimit:" + key

	n, err := c.redisdb.Incr(ctx, full).Result()
	if err != nil {
		return true, 0, err
	}

	if n == 1 {
		if err := c.redisdb.Expire(ctx, full, window).Err(); err != nil {
			return true, 0, err
		}
	}

	if n > int64(limit) {
		ttl, err := c.redisdb.TTL(ctx, full).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return false, ttl, nil
	}

	return true, 0, nil
}
