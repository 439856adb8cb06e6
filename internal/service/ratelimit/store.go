package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one counter check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store counts requests against a budget.
type Store interface {
	Allow(ctx context.Context, key string, alg Algorithm, b Budget, now time.Time) (Result, error)
	// Blocked returns how long key remains blocked, zero when it is not.
	Blocked(ctx context.Context, key string) (time.Duration, error)
	Block(ctx context.Context, key string, d time.Duration) error
}

// Sliding window over a sorted set of request timestamps (ms). Only
// admitted requests are recorded.
const slidingWindowLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < limit then
    redis.call("ZADD", key, now, member)
    redis.call("PEXPIRE", key, window)
    return {1, limit - count - 1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local wait = window
if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
end
return {0, 0, wait}
`

// Token bucket stored as a hash {tokens, ts}. rate is tokens per ms.
const tokenBucketLuaScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
    tokens = capacity
    ts = now
end

local elapsed = now - ts
if elapsed < 0 then
    elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local wait = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    wait = math.ceil((1 - tokens) / rate)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", key, ttl)
return {allowed, math.floor(tokens), wait}
`

// RedisStore keeps counters and block markers in Redis. Each check is one
// atomic script run.
type RedisStore struct {
	redis         *redis.Client
	slidingScript *redis.Script
	bucketScript  *redis.Script
}

// NewRedisStore creates a store with pre-compiled scripts.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		redis:         client,
		slidingScript: redis.NewScript(slidingWindowLuaScript),
		bucketScript:  redis.NewScript(tokenBucketLuaScript),
	}
}

func counterKey(tenantID string) string { return "ratelimit:abuse:" + tenantID }
func blockKey(tenantID string) string   { return "ratelimit:abuse:block:" + tenantID }

func (s *RedisStore) Allow(ctx context.Context, key string, alg Algorithm, b Budget, now time.Time) (Result, error) {
	nowMS := now.UnixMilli()
	windowMS := b.Window.Milliseconds()

	var (
		vals []interface{}
		err  error
	)
	switch alg {
	case TokenBucket:
		perMS := float64(b.MaxRequests) / float64(windowMS)
		// Keep the hash around long enough to refill completely.
		ttl := int64(float64(b.Capacity())/perMS) + windowMS
		vals, err = s.bucketScript.Run(ctx, s.redis, []string{key},
			b.Capacity(), perMS, nowMS, ttl).Slice()
	default:
		vals, err = s.slidingScript.Run(ctx, s.redis, []string{key},
			b.MaxRequests, windowMS, nowMS, uuid.NewString()).Slice()
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, vals)
	}

	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	waitMS, _ := vals[2].(int64)
	return Result{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(waitMS) * time.Millisecond,
	}, nil
}

func (s *RedisStore) Blocked(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// -2 (no key) and -1 (no expiry) come back as negative durations.
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Block(ctx context.Context, key string, d time.Duration) error {
	if err := s.redis.Set(ctx, key, "1", d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
