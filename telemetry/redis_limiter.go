package telemetry

// Redis-backed sliding window shared between processes.
//
// Redis Structure:
//   - Keys: openxr:ratelimit:<vendor>:<event>
//   - Type: Sorted Set (ZSET)
//   - Score: Event timestamp (microseconds)
//   - Member: Event ID supplied by the sink (uuid)
//   - TTL: Window duration, refreshed on every accepted event
//
// Prune, count and add run in one Lua script so two processes can never
// both take the last slot in a window.

import (
	"context"
	"fmt"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/go-redis/redis/v8"
)

// RedisLimiterNamespace prefixes every rate limit key.
const RedisLimiterNamespace = "openxr:ratelimit"

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call("ZREMRANGEBYSCORE", key, "-inf", window_start)
local count = redis.call("ZCARD", key)
if count >= limit then
  return 0
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, ttl)
return 1
`)

// RedisWindowLimiter implements EventLimiter on a Redis sorted set.
type RedisWindowLimiter struct {
	client *core.RedisClient
	window time.Duration
	now    Clock
	logger core.Logger
}

var _ EventLimiter = (*RedisWindowLimiter)(nil)

// NewRedisWindowLimiter connects to redisURL using the rate limiting
// database. A non-positive window means one hour.
func NewRedisWindowLimiter(redisURL string, window time.Duration, logger core.Logger) (*RedisWindowLimiter, error) {
	logger = core.LoggerOrNoop(logger)

	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  redisURL,
		DB:        core.RedisDBRateLimiting,
		Namespace: RedisLimiterNamespace,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client for rate limiting: %w", err)
	}

	if window <= 0 {
		window = time.Hour
	}

	logger.Info("Redis event limiter initialized", map[string]interface{}{
		"db":        client.GetDB(),
		"db_name":   core.GetRedisDBName(client.GetDB()),
		"namespace": client.GetNamespace(),
		"window":    window.String(),
		"algorithm": "sliding_window",
	})

	return &RedisWindowLimiter{
		client: client,
		window: window,
		now:    time.Now,
		logger: logger,
	}, nil
}

// SetClock replaces the time source.
func (r *RedisWindowLimiter) SetClock(clock Clock) {
	if clock != nil {
		r.now = clock
	}
}

func (r *RedisWindowLimiter) Allow(ctx context.Context, key, id string, limit int) (bool, error) {
	now := r.now()
	windowStart := now.Add(-r.window)

	res, err := r.client.RunScript(ctx, slidingWindowScript, []string{key},
		now.UnixMicro(),
		windowStart.UnixMicro(),
		limit,
		id,
		r.window.Milliseconds(),
	)
	if err != nil {
		r.logger.Error("Failed to evaluate event window", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}

	allowed, _ := res.(int64)
	if allowed != 1 {
		r.logger.Warn("Event window full", map[string]interface{}{
			"key":       key,
			"limit":     limit,
			"window":    r.window.String(),
			"algorithm": "sliding_window",
		})
		return false, nil
	}
	return true, nil
}

// Release removes event id from key's window.
func (r *RedisWindowLimiter) Release(ctx context.Context, key, id string) error {
	if err := r.client.ZRem(ctx, key, id); err != nil {
		return fmt.Errorf("release event %s: %w", id, err)
	}
	return nil
}

// Count drops expired events for key and returns how many remain.
func (r *RedisWindowLimiter) Count(ctx context.Context, key string) (int64, error) {
	windowStart := r.now().Add(-r.window).UnixMicro()
	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart)); err != nil {
		return 0, fmt.Errorf("prune event window: %w", err)
	}
	return r.client.ZCount(ctx, key, fmt.Sprintf("(%d", windowStart), "+inf")
}

// HealthCheck pings Redis.
func (r *RedisWindowLimiter) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// Close releases the Redis connection.
func (r *RedisWindowLimiter) Close() error {
	return r.client.Close()
}
