package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAllowScript atomically increments the window counter and sets its
// expiry on first increment.
var redisAllowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a fixed-window per-provider limiter shared across relay
// instances.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int64
	window    time.Duration

	// FailOpen admits requests when Redis is unreachable.
	FailOpen bool
}

// NewRedisLimiter creates a distributed limiter allowing limit requests per
// window per provider.
func NewRedisLimiter(client redis.UniversalClient, limit int64, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client:    client,
		keyPrefix: "llmrelay:ratelimit",
		limit:     limit,
		window:    window,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	bucket := time.Now().UnixMilli() / l.window.Milliseconds()
	key := fmt.Sprintf("%s:%s:%d", l.keyPrefix, provider, bucket)

	current, err := redisAllowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		if l.FailOpen {
			return true, nil
		}
		return false, fmt.Errorf("rate limit check: %w", err)
	}

	return current <= l.limit, nil
}
