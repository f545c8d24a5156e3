package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes in one step so concurrent requests
// for the same key never interleave. The caller supplies the clock in ms.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) / interval)
  ts = now
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) * interval)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, wait}
`)

// RedisLimiter shares token buckets between replicas. Bucket hashes expire
// once they would have refilled completely.
type RedisLimiter struct {
	client *redis.Client
	limits Limits
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limits Limits, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, limits: limits, prefix: prefix, now: time.Now}
}

func (r *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	r.now = now
	return r
}

func (r *RedisLimiter) Name() string { return "redis" }

func (r *RedisLimiter) Allow(ctx context.Context, key string, cat Category) (Decision, error) {
	perMinute := r.limits[cat]
	if perMinute <= 0 {
		return Decision{Allowed: true}, nil
	}
	interval := time.Minute.Milliseconds() / int64(perMinute)
	ttl := time.Minute.Milliseconds() + 1000
	redisKey := fmt.Sprintf("%s%s:%s", r.prefix, cat, key)

	res, err := tokenBucketScript.Run(ctx, r.client, []string{redisKey},
		perMinute, interval, r.now().UnixMilli(), ttl).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis token bucket: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis token bucket: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}
