// Package throttle is a Redis-backed burst limiter for API transports. It
// smooths short spikes below the per-second ceilings providers enforce; the
// durable hourly and daily quotas live in the store, not here.
package throttle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limits caps sends per second and per minute for one transport kind.
type Limits struct {
	PerSecond int
	PerMinute int
}

// DefaultSESLimits matches the sandbox-safe SES ceiling; production accounts
// raise this through config.
var DefaultSESLimits = Limits{PerSecond: 14, PerMinute: 800}

// The script checks both buckets before incrementing either, so a denied
// call consumes nothing.
const burstLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local secondLimit = tonumber(ARGV[1])
local minuteLimit = tonumber(ARGV[2])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")

if secCurrent + 1 > secondLimit then
    return {0, 1}
end
if minCurrent + 1 > minuteLimit then
    return {0, 2}
end

local newSec = redis.call("INCR", secondKey)
if newSec == 1 then
    redis.call("EXPIRE", secondKey, 2)
end

local newMin = redis.call("INCR", minuteKey)
if newMin == 1 then
    redis.call("EXPIRE", minuteKey, 120)
end

return {1, 0}
`

// Throttle runs the burst check against Redis with a pre-compiled script.
type Throttle struct {
	redis  *redis.Client
	script *redis.Script
	limits Limits
}

// New wraps an existing Redis client.
func New(client *redis.Client, limits Limits) *Throttle {
	return &Throttle{
		redis:  client,
		script: redis.NewScript(burstLuaScript),
		limits: limits,
	}
}

// NewFromURL connects to Redis and verifies the connection.
func NewFromURL(redisURL string, limits Limits) (*Throttle, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Printf("[Throttle] Connected to Redis")
	return New(client, limits), nil
}

// Allow atomically checks and charges one send for the account. A denial
// returns the suggested wait before retrying; the caller leaves the message
// pending rather than failing it.
func (t *Throttle) Allow(ctx context.Context, accountID string) (allowed bool, wait time.Duration, err error) {
	now := time.Now()
	secondKey := fmt.Sprintf("burst:%s:sec:%d", accountID, now.Unix())
	minuteKey := fmt.Sprintf("burst:%s:min:%d", accountID, now.Unix()/60)

	result, err := t.script.Run(ctx, t.redis,
		[]string{secondKey, minuteKey},
		t.limits.PerSecond,
		t.limits.PerMinute,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("burst check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1:
		wait = time.Second
	case 2:
		wait = time.Duration(60-now.Second()) * time.Second
	}
	return false, wait, nil
}
