// Package waitlist admits waitlist signups.
package waitlist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/ddb"
	"github.com/kylejryan/applicant-upload-portal/internal/logging"
	"github.com/kylejryan/applicant-upload-portal/internal/models"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"
	"github.com/kylejryan/applicant-upload-portal/internal/validate"

	"github.com/oklog/ulid/v2"
)

const (
	maxUserAgent = 256
	maxReferrer  = 512
)

// ErrInvalidEmail is returned for an email that fails the syntax check.
var ErrInvalidEmail = validate.ErrInvalidEmail

// Admitter is the rate limiter guarding signups.
type Admitter interface {
	Admit(ctx context.Context, id ratelimit.Identity, now time.Time) (ratelimit.Decision, error)
}

// Sink stores accepted entries.
type Sink interface {
	PutWaitlist(ctx context.Context, e models.WaitlistEntry) error
}

// Signup is one request to join the waitlist.
type Signup struct {
	Email     string
	Address   string
	UserAgent string
	Referrer  string
}

type Service struct {
	guard  Admitter
	sink   Sink
	logger logging.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(guard Admitter, sink Sink, opts ...Option) *Service {
	s := &Service{guard: guard, sink: sink, logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join rate-limits the signup, validates the email and stores the entry.
// A rejected decision is returned with a nil error; the caller answers 429.
func (s *Service) Join(ctx context.Context, in Signup) (ratelimit.Decision, error) {
	now := s.now()
	dec, err := s.guard.Admit(ctx, ratelimit.Identity{Address: in.Address, Email: in.Email}, now)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	if !dec.Allowed {
		s.logger.Debug("waitlist rate limited", "space", dec.Space, "retry_after", dec.RetryAfter)
		return dec, nil
	}

	if err := validate.Email(in.Email); err != nil {
		return dec, err
	}

	entry := NewEntry(in, now)
	if err := s.sink.PutWaitlist(ctx, entry); err != nil {
		if errors.Is(err, ddb.ErrDuplicate) {
			return dec, nil
		}
		return dec, err
	}
	s.logger.Info("waitlist signup", "id", entry.ID)
	return dec, nil
}

// NewEntry builds the record stored for a valid signup.
func NewEntry(in Signup, now time.Time) models.WaitlistEntry {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	pk, sk := ddb.WaitlistKeys(id)
	return models.WaitlistEntry{
		PK:        pk,
		SK:        sk,
		ID:        id,
		Email:     ratelimit.NormalizeEmail(in.Email),
		CreatedAt: ddb.NowISO(now),
		UserAgent: truncate(in.UserAgent, maxUserAgent),
		Referrer:  truncate(in.Referrer, maxReferrer),
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
