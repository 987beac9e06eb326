package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript atomically applies one fixed-window check. A denied request
// leaves the counter untouched. Returns {allowed, count, pttl}.
var checkScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local max = tonumber(ARGV[1])
if current >= max then
	return {0, current, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, current, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares windows between instances through Redis. Expired
// windows are removed by Redis key expiry.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	limits map[Category]Limit
}

// NewRedisLimiter creates a Redis-backed limiter. Keys are namespaced by
// prefix.
func NewRedisLimiter(client redis.Scripter, prefix string, overrides map[Category]Limit) *RedisLimiter {
	if prefix == "" {
		prefix = "contentguard:ratelimit"
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limits: mergeLimits(overrides),
	}
}

// Check records one request for identity in category if the window allows it.
func (l *RedisLimiter) Check(ctx context.Context, identity string, category Category) (Decision, error) {
	limit, ok := l.limits[category]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	key := l.prefix + ":" + windowKey(identity, category)
	vals, err := checkScript.Run(ctx, l.client, []string{key}, limit.Max, limit.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("checking rate limit: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("checking rate limit: unexpected reply length %d", len(vals))
	}

	resetIn := time.Duration(vals[2]) * time.Millisecond
	if vals[2] < 0 {
		resetIn = limit.Window
	}
	d := Decision{Allowed: vals[0] == 1, ResetIn: resetIn}
	if d.Allowed {
		d.Remaining = max(limit.Max-int(vals[1]), 0)
	}
	return d, nil
}
