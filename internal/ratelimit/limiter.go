// Package ratelimit provides a distributed sliding-window rate limiter used
// to throttle super-admin endpoints per client IP.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript records a request in a sorted-set window atomically.
// Returns {allowed, count, oldest} so the caller can compute retry-after.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local oldest_score = now
  if oldest[2] then
    oldest_score = tonumber(oldest[2])
  end
  return {0, count, oldest_score}
else
  redis.call('ZADD', key, now, tostring(now) .. '-' .. tostring(count))
  redis.call('PEXPIRE', key, math.ceil(window / 1000000))
  return {1, count + 1, now}
end
`)

// Limiter is a Redis-backed sliding-window limiter.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter allowing limit requests per window per key.
func NewLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow records a hit for key and reports whether it is within the window
// limit. When denied, retryAfter is the time until the oldest hit in the
// window decays.
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error) {
	now := time.Now().UnixNano()
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		now, l.window.Nanoseconds(), l.limit,
	).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return false, 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowedInt, _ := vals[0].(int64)
	oldest, _ := vals[2].(int64)

	if allowedInt == 1 {
		return true, 0, nil
	}
	retryAfter = time.Duration(oldest + l.window.Nanoseconds() - now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}

// Limit returns the configured maximum hits per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured decay window.
func (l *Limiter) Window() time.Duration { return l.window }
