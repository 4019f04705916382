package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Guard admits requests for one route against an address rule and an
// email rule backed by a shared Store.
type Guard struct {
	name  string
	store Store
	addr  Rule
	email Rule
	stats Stats
}

type GuardOption func(*Guard)

// WithStats records every decision. Recorder errors are ignored.
func WithStats(s Stats) GuardOption {
	return func(g *Guard) { g.stats = s }
}

func NewGuard(name string, store Store, addr, email Rule, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("guard name is required")
	}
	if !addr.valid() || !email.valid() {
		return nil, errors.New("guard rules must have positive values")
	}
	g := &Guard{name: name, store: store, addr: addr, email: email}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Guard) Name() string { return g.name }

// AddrSpace and EmailSpace are the keyspace names this guard records under.
func (g *Guard) AddrSpace() string  { return g.name + ":addr" }
func (g *Guard) EmailSpace() string { return g.name + ":email" }

// Admit checks the address keyspace always and the email keyspace only when
// id.Email is non-empty. Both must pass; nothing is recorded otherwise.
func (g *Guard) Admit(ctx context.Context, id Identity, now time.Time) (Decision, error) {
	addr := strings.TrimSpace(id.Address)
	if addr == "" {
		addr = "unknown"
	}

	checks := []Check{{Space: g.AddrSpace(), Key: addr, Rule: g.addr}}
	if email := NormalizeEmail(id.Email); email != "" {
		checks = append(checks, Check{Space: g.EmailSpace(), Key: email, Rule: g.email})
	}

	dec, err := g.store.Admit(ctx, now, checks...)
	if err != nil {
		return Decision{}, err
	}

	if g.stats != nil {
		_ = g.stats.Record(ctx, Event{Route: g.name, Space: dec.Space, Allowed: dec.Allowed, At: now})
	}
	return dec, nil
}
