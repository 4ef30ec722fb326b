package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Arguments are epoch milliseconds. Returns {allowed, count, window_start, cooldown_until}.
var redisAdmitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cooldown = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
local start = tonumber(redis.call("HGET", KEYS[1], "window_start") or "0")
local until_ms = tonumber(redis.call("HGET", KEYS[1], "cooldown_until") or "0")

if start == 0 or now >= start + window then
  count = 0
  start = now
end

local allowed = 1
if now < until_ms then
  allowed = 0
else
  count = count + 1
  if count > limit then
    if start + cooldown > until_ms then
      until_ms = start + cooldown
    end
    if now < until_ms then
      allowed = 0
    end
  end
end

redis.call("HSET", KEYS[1], "count", count, "window_start", start, "cooldown_until", until_ms)
local expire = math.max(start + window, until_ms) - now
if expire < 1000 then
  expire = 1000
end
redis.call("PEXPIRE", KEYS[1], expire)
return {allowed, count, start, until_ms}
`)

// RedisBackend shares admission records between relay instances.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend constructs a RedisBackend.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Consume runs one admission step for key inside a single script call.
func (b *RedisBackend) Consume(ctx context.Context, key string, limits Limits, now time.Time) (Result, error) {
	if b == nil || b.client == nil {
		return Result{}, errors.New("admission redis: client not configured")
	}
	args := []any{
		now.UnixMilli(),
		limits.Window.Milliseconds(),
		limits.Cooldown.Milliseconds(),
		limits.RequestLimit,
	}
	res, errEval := redisAdmitScript.Run(ctx, b.client, []string{b.buildKey(key)}, args...).Result()
	if errEval != nil {
		return Result{}, errEval
	}
	values, ok := res.([]any)
	if !ok || len(values) != 4 {
		return Result{}, errors.New("admission redis: unexpected response type")
	}
	nums := make([]int64, len(values))
	for i, v := range values {
		n, errNum := toInt64(v)
		if errNum != nil {
			return Result{}, errNum
		}
		nums[i] = n
	}
	rec := Record{
		CallerKey:    key,
		RequestCount: int(nums[1]),
		WindowStart:  time.UnixMilli(nums[2]),
	}
	if nums[3] > 0 {
		rec.CooldownUntil = time.UnixMilli(nums[3])
	}
	if nums[0] == 1 {
		return allowed(rec, limits), nil
	}
	return denied(rec, limits, now), nil
}

// Lookup reads the record for key without consuming quota.
func (b *RedisBackend) Lookup(ctx context.Context, key string) (Record, bool, error) {
	if b == nil || b.client == nil {
		return Record{}, false, errors.New("admission redis: client not configured")
	}
	fields, errGet := b.client.HGetAll(ctx, b.buildKey(key)).Result()
	if errGet != nil {
		return Record{}, false, errGet
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	rec := Record{CallerKey: key}
	count, errCount := strconv.Atoi(fields["count"])
	if errCount != nil {
		return Record{}, false, fmt.Errorf("admission redis: parse count: %w", errCount)
	}
	rec.RequestCount = count
	if start, errStart := strconv.ParseInt(fields["window_start"], 10, 64); errStart == nil && start > 0 {
		rec.WindowStart = time.UnixMilli(start)
	}
	if until, errUntil := strconv.ParseInt(fields["cooldown_until"], 10, 64); errUntil == nil && until > 0 {
		rec.CooldownUntil = time.UnixMilli(until)
	}
	return rec, true, nil
}

func (b *RedisBackend) buildKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, errors.New("admission redis: unexpected response type")
	}
}
