package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one admission decision as seen by a Stats recorder.
type Event struct {
	Route   string
	Space   string
	Allowed bool
	At      time.Time
}

// Counters is an allowed/denied tally.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Stats records decisions for diagnostics. Recording is best effort; a
// failing recorder never changes a decision.
type Stats interface {
	Record(ctx context.Context, ev Event) error
	Snapshot(ctx context.Context) (map[string]Counters, error)
}

// statsKey is "route" for admissions and "route/space" for rejections, so
// the denied tally can be split by the keyspace that tripped.
func statsKey(ev Event) string {
	if ev.Allowed || ev.Space == "" {
		return ev.Route
	}
	return ev.Route + "/" + ev.Space
}

// MemoryStats keeps counters in process memory.
type MemoryStats struct {
	mu     sync.Mutex
	counts map[string]Counters
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{counts: make(map[string]Counters)}
}

func (s *MemoryStats) Record(_ context.Context, ev Event) error {
	key := statsKey(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counts[key]
	if ev.Allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	s.counts[key] = c
	return nil
}

func (s *MemoryStats) Snapshot(context.Context) (map[string]Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

// RedisStats keeps cumulative counters in one hash plus per-minute buckets
// that expire after ttl.
type RedisStats struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStats(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisStats {
	if prefix = strings.Trim(prefix, ":"); prefix == "" {
		prefix = "ratelimit:stats"
	}
	return &RedisStats{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := statsKey(ev) + ":denied"
	if ev.Allowed {
		field = statsKey(ev) + ":allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	bucket := s.prefix + ":minute:" + at.UTC().Format("200601021504")
	pipe.HIncrBy(ctx, bucket, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStats) Snapshot(ctx context.Context) (map[string]Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]Counters, len(raw))
	for field, v := range raw {
		i := strings.LastIndexByte(field, ':')
		if i < 0 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		key, kind := field[:i], field[i+1:]
		c := out[key]
		switch kind {
		case "allowed":
			c.Allowed += n
		case "denied":
			c.Denied += n
		}
		out[key] = c
	}
	return out, nil
}
