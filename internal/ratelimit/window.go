package ratelimit

import (
	"sync"
	"time"
)

// DefaultMaxKeys bounds the identities tracked by one Window.
const DefaultMaxKeys = 10000

// Window is an in-memory sliding window for a single keyspace.
// Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	rule    Rule
	maxKeys int
	entries map[string]*windowEntry
}

type windowEntry struct {
	stamps   []time.Time
	lastSeen time.Time
}

type WindowOption func(*Window)

// WithMaxKeys caps the number of tracked identities. When the cap is hit,
// empty windows are swept first, then the least recently admitted key is
// evicted.
func WithMaxKeys(n int) WindowOption {
	return func(w *Window) {
		if n > 0 {
			w.maxKeys = n
		}
	}
}

func NewWindow(rule Rule, opts ...WindowOption) *Window {
	w := &Window{
		rule:    rule,
		maxKeys: DefaultMaxKeys,
		entries: make(map[string]*windowEntry),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Window) Rule() Rule { return w.rule }

// Admit records now for key and returns true iff fewer than Limit
// timestamps remain inside [now-Window, now]. A rejection records nothing.
func (w *Window) Admit(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.countLocked(key, now) >= w.rule.Limit {
		return false
	}
	w.recordLocked(key, now)
	return true
}

// Count returns the number of timestamps currently inside the window for key.
func (w *Window) Count(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.countLocked(key, now)
}

// Len is the number of tracked identities.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Sweep prunes every key and drops the ones left empty. It returns the
// number of keys removed.
func (w *Window) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweepLocked(now)
}

func (w *Window) sweepLocked(now time.Time) int {
	removed := 0
	for k := range w.entries {
		if w.countLocked(k, now) == 0 {
			removed++
		}
	}
	return removed
}

// countLocked prunes expired timestamps for key and returns what is left.
// Keys left with no timestamps are deleted.
func (w *Window) countLocked(key string, now time.Time) int {
	ent, ok := w.entries[key]
	if !ok {
		return 0
	}

	cutoff := now.Add(-w.rule.Window)
	kept := ent.stamps[:0]
	for _, t := range ent.stamps {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	ent.stamps = kept

	if len(kept) == 0 {
		delete(w.entries, key)
	}
	return len(kept)
}

func (w *Window) recordLocked(key string, now time.Time) {
	ent, ok := w.entries[key]
	if !ok {
		if len(w.entries) >= w.maxKeys {
			w.evictLocked(now)
		}
		ent = &windowEntry{}
		w.entries[key] = ent
	}
	ent.stamps = append(ent.stamps, now)
	ent.lastSeen = now
}

func (w *Window) evictLocked(now time.Time) {
	if w.sweepLocked(now) > 0 && len(w.entries) < w.maxKeys {
		return
	}
	for len(w.entries) >= w.maxKeys {
		var (
			oldestKey string
			oldest    time.Time
			found     bool
		)
		for k, e := range w.entries {
			if !found || e.lastSeen.Before(oldest) {
				oldestKey, oldest, found = k, e.lastSeen, true
			}
		}
		delete(w.entries, oldestKey)
	}
}

// retryAfterLocked assumes countLocked ran for key in the same critical section.
func (w *Window) retryAfterLocked(key string, now time.Time) time.Duration {
	ent, ok := w.entries[key]
	if !ok || len(ent.stamps) == 0 {
		return retryAfter(now, now, 0)
	}
	oldest := ent.stamps[0]
	for _, t := range ent.stamps[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	return retryAfter(oldest, now, w.rule.Window)
}
