// Package ratelimit enforces per-identity sliding-window request limits.
//
// A Guard checks one request against two keyspaces (client address and,
// when supplied, email). Admission is all-or-nothing: a request rejected in
// either keyspace leaves both keyspaces untouched.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Rule admits at most Limit events per trailing Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) valid() bool { return r.Limit > 0 && r.Window > 0 }

// Check is one keyspace lookup inside a single admission decision.
type Check struct {
	Space string
	Key   string
	Rule  Rule
}

// Decision is the outcome of an admission. A rejection is an expected
// result, not an error.
type Decision struct {
	Allowed bool
	// Space names the keyspace that rejected the request.
	Space string
	// RetryAfter is how long until the rejecting keyspace frees a slot.
	RetryAfter time.Duration
}

// Store records admissions for one or more keyspaces atomically.
type Store interface {
	Admit(ctx context.Context, now time.Time, checks ...Check) (Decision, error)
}

// Identity is what a request is bucketed by.
type Identity struct {
	Address string
	Email   string
}

// NormalizeEmail lowercases and trims an email for use as an identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// retryAfter rounds up to whole seconds, never below one.
func retryAfter(oldest, now time.Time, window time.Duration) time.Duration {
	d := oldest.Add(window).Sub(now)
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
