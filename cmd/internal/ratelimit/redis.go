package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a Limiter whose counters live in Redis, so every instance
// sees the same window. The window starts at the first INCR and is timed by
// Redis; now is ignored.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter constructs a RedisLimiter. prefix namespaces keys.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, win time.Duration) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: nil redis client")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "hearth:rl"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: win}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, error) {
	n, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return n <= int64(l.limit), nil
}

var _ Limiter = (*RedisLimiter)(nil)
