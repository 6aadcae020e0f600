package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
)

// Fixed window in one round trip. Returns {allowed, count, ttl_ms}.
// A key without a positive TTL is treated as expired and restarted.
const luaFixedWindowScript = `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = tonumber(redis.call("GET", key) or "0")
local ttl = redis.call("PTTL", key)

if count > 0 and ttl > 0 then
  if count >= max then
    return {0, count, ttl}
  end
  count = redis.call("INCR", key)
  return {1, count, ttl}
end

redis.call("SET", key, 1, "PX", window_ms)
return {1, 1, window_ms}
`

// RedisLimiter shares fixed windows across instances through Redis. When
// Redis fails the request is decided by the in-process fallback instead.
type RedisLimiter struct {
	redis    *redis.Client
	policies Policies
	script   *redis.Script
	fallback *MemoryLimiter
	prefix   string
	now      func() time.Time
}

// NewRedisLimiter creates a shared limiter. It returns nil when rdb is nil.
func NewRedisLimiter(rdb *redis.Client, p Policies) *RedisLimiter {
	if rdb == nil {
		return nil
	}
	if p == nil {
		p = DefaultPolicies()
	}
	return &RedisLimiter{
		redis:    rdb,
		policies: p,
		script:   redis.NewScript(luaFixedWindowScript),
		fallback: NewMemoryLimiter(p),
		prefix:   "rl:",
		now:      time.Now,
	}
}

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, class RouteClass, key string) (Decision, error) {
	pol, err := l.policies.lookup(class)
	if err != nil {
		return Decision{}, err
	}
	redisKey := l.prefix + string(class) + ":" + key
	res, err := l.script.Run(ctx, l.redis, []string{redisKey}, pol.Max, pol.Window.Milliseconds()).Result()
	if err != nil {
		observability.RateLimitBackendErrorsTotal.Inc()
		slog.Error("redis rate limiter script error", slog.String("class", string(class)), slog.Any("error", err))
		return l.fallback.Admit(ctx, class, key)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		observability.RateLimitBackendErrorsTotal.Inc()
		slog.Error("redis rate limiter unexpected script result", slog.String("class", string(class)), slog.Any("result", res))
		return l.fallback.Admit(ctx, class, key)
	}

	allowed := toInt64(vals[0]) == 1
	count := int(toInt64(vals[1]))
	ttl := time.Duration(toInt64(vals[2])) * time.Millisecond
	now := l.now()
	d := Decision{
		Allowed:   allowed,
		Limit:     pol.Max,
		Remaining: max(pol.Max-count, 0),
		ResetAt:   now.Add(ttl),
	}
	if !allowed {
		d.RetryAfter = ttl
		d.Message = pol.Message
	}
	return d, nil
}

// NewRedisClient parses url and waits for the server to answer PING,
// retrying with exponential backoff.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=ratelimiter.NewRedisClient: %w", err)
	}
	rdb := redis.NewClient(opt)
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxElapsedTime = 15 * time.Second
	op := func() error { return rdb.Ping(ctx).Err() }
	notify := func(err error, next time.Duration) {
		slog.Warn("redis not ready, retrying", slog.Any("error", err), slog.Duration("next", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(expo, ctx), notify); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("op=ratelimiter.NewRedisClient: %w", err)
	}
	return rdb, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
