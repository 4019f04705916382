package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript evaluates every keyspace before recording any of them, so a
// request rejected by one keyspace leaves all of them untouched.
//
// KEYS: one sorted set per check.
// ARGV: now (ms), member, then limit and window (ms) per check.
// Returns {0, 0} when admitted, otherwise {index of rejecting key, retry ms}.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
for i, key in ipairs(KEYS) do
  local limit = tonumber(ARGV[1 + 2*i])
  local window = tonumber(ARGV[2 + 2*i])
  redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
  if redis.call('ZCARD', key) >= limit then
    local retry = window
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if oldest[2] then
      retry = tonumber(oldest[2]) + window - now
    end
    return {i, retry}
  end
end
for i, key in ipairs(KEYS) do
  local window = tonumber(ARGV[2 + 2*i])
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
end
return {0, 0}
`)

// RedisStore shares sliding windows across processes through sorted sets.
// Keys expire with their window, so idle identities are reclaimed by Redis.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.Scripter, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Admit(ctx context.Context, now time.Time, checks ...Check) (Decision, error) {
	if len(checks) == 0 {
		return Decision{Allowed: true}, nil
	}

	keys := make([]string, len(checks))
	nowMs := now.UnixMilli()
	args := []any{nowMs, fmt.Sprintf("%d-%s", nowMs, uuid.NewString())}
	for i, c := range checks {
		if !c.Rule.valid() {
			return Decision{}, fmt.Errorf("keyspace %q: rule must have positive values", c.Space)
		}
		keys[i] = s.key(c)
		args = append(args, c.Rule.Limit, c.Rule.Window.Milliseconds())
	}

	res, err := admitScript.Run(ctx, s.rdb, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis admit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis admit: unexpected reply %v", res)
	}
	if res[0] == 0 {
		return Decision{Allowed: true}, nil
	}

	idx := int(res[0]) - 1
	if idx < 0 || idx >= len(checks) {
		return Decision{}, fmt.Errorf("redis admit: reply index %d out of range", res[0])
	}
	retry := time.Duration(res[1]) * time.Millisecond
	return Decision{
		Allowed:    false,
		Space:      checks[idx].Space,
		RetryAfter: retryAfter(now, now, retry),
	}, nil
}

func (s *RedisStore) key(c Check) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, c.Space, strings.ToLower(strings.TrimSpace(c.Key)))
}
