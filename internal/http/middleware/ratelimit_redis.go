package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// windowScript increments the counter for the current window and sets its
// expiry on first use. It returns the new count and the remaining TTL in ms.
var windowScript = redis.NewScript(`
local n = redis.call("incr", KEYS[1])
if n == 1 then
	redis.call("pexpire", KEYS[1], ARGV[1])
end
return {n, redis.call("pttl", KEYS[1])}
`)

// RedisRateLimiter is a fixed-window limiter whose counters live in Redis, so
// every replica enforces the same budget per key.
//
// Redis failures fail open: the request proceeds and a warning is logged.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	keyFn  keyFunc
	prefix string
}

// NewRedisRateLimiter allows limit requests per window for each key. A limit
// <= 0 is coerced to 1 and a window <= 0 to one second.
func NewRedisRateLimiter(rdb redis.UniversalClient, limit int, window time.Duration, keyFn keyFunc) *RedisRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, keyFn: keyFn, prefix: "lending:rl:"}
}

// allow reports whether key still has budget in the current window, and how
// long until the window resets.
func (rl *RedisRateLimiter) allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := windowScript.Run(ctx, rl.rdb, []string{rl.prefix + key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return true, 0, err
	}
	if len(res) != 2 {
		return true, 0, nil
	}
	return res[0] <= int64(rl.limit), time.Duration(res[1]) * time.Millisecond, nil
}

// Handler returns a Gin middleware with the same contract as
// RateLimiter.Handler.
func (rl *RedisRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		ok, reset, err := rl.allow(c.Request.Context(), rl.keyFn(c))
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("rate limiter unavailable")
		}
		if ok {
			c.Next()
			return
		}

		secs := int(reset.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		rejectRateLimited(c, secs)
	}
}
