package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a per-source sliding window limiter on ingested events,
// backed by a Redis sorted set. Each admitted event is one member scored by
// its arrival time, so a batch consumes as many slots as it has events.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	window      time.Duration
}

// Lua script for atomic sliding window admission of n events.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If count+n fits the limit, add n entries and return 1
// 4. Otherwise add nothing and return 0
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local prefix = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count + n <= limit then
    for i = 1, n do
        redis.call('ZADD', key, now, prefix .. ':' .. i)
    end
    redis.call('PEXPIRE', key, window + 1000)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, window time.Duration, logger *slog.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		window:      window,
	}
}

func rlKey(source string) string {
	return fmt.Sprintf("rl:ingest:%s", source)
}

// AllowN reports whether n more events from source fit within limit events
// per window. A non-positive limit disables limiting.
func (rl *RateLimiter) AllowN(ctx context.Context, source string, n, limit int) bool {
	if limit <= 0 || n <= 0 {
		return true
	}
	if n > limit {
		return false
	}

	now := time.Now().UnixMilli()
	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(source)},
		now, rl.window.Milliseconds(), limit, n, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "source", source)
		return true // Fail open: ingestion is idempotent, so admitting is safe
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "source", source, "events", n, "limit", limit)
		return false
	}
	return true
}
