package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps one Window per keyspace in process memory. Limits are
// only enforced per process; run the RedisStore behind multiple instances.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*Window
	maxKeys int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &MemoryStore{
		windows: make(map[string]*Window),
		maxKeys: maxKeys,
	}
}

// Admit implements Store. Windows are locked in keyspace-name order so two
// decisions touching the same keyspaces cannot deadlock, and every count is
// taken and recorded under the same locks.
func (s *MemoryStore) Admit(_ context.Context, now time.Time, checks ...Check) (Decision, error) {
	if len(checks) == 0 {
		return Decision{Allowed: true}, nil
	}

	ordered := make([]Check, len(checks))
	copy(ordered, checks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Space < ordered[j].Space })

	windows := make([]*Window, len(ordered))
	for i, c := range ordered {
		if i > 0 && ordered[i-1].Space == c.Space {
			return Decision{}, fmt.Errorf("keyspace %q checked twice", c.Space)
		}
		w, err := s.window(c.Space, c.Rule)
		if err != nil {
			return Decision{}, err
		}
		windows[i] = w
	}

	for _, w := range windows {
		w.mu.Lock()
	}
	defer func() {
		for _, w := range windows {
			w.mu.Unlock()
		}
	}()

	for i, c := range ordered {
		w := windows[i]
		if w.countLocked(c.Key, now) >= w.rule.Limit {
			return Decision{
				Allowed:    false,
				Space:      c.Space,
				RetryAfter: w.retryAfterLocked(c.Key, now),
			}, nil
		}
	}
	for i, c := range ordered {
		windows[i].recordLocked(c.Key, now)
	}
	return Decision{Allowed: true}, nil
}

// Sweep drops empty windows in every keyspace.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	windows := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows {
		windows = append(windows, w)
	}
	s.mu.Unlock()

	removed := 0
	for _, w := range windows {
		removed += w.Sweep(now)
	}
	return removed
}

// Len is the number of tracked identities across all keyspaces.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.windows {
		n += w.Len()
	}
	return n
}

// StartJanitor sweeps every interval until ctx is done. Admit already prunes
// lazily, so this only bounds memory held by identities that never return.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Sweep(now)
			}
		}
	}()
}

func (s *MemoryStore) window(space string, rule Rule) (*Window, error) {
	if !rule.valid() {
		return nil, fmt.Errorf("keyspace %q: rule must have positive values", space)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[space]
	if !ok {
		w = NewWindow(rule, WithMaxKeys(s.maxKeys))
		s.windows[space] = w
		return w, nil
	}
	if w.rule != rule {
		return nil, fmt.Errorf("keyspace %q already configured with a different rule", space)
	}
	return w, nil
}
