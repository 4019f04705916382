package waitlist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kylejryan/applicant-upload-portal/internal/ddb"
	"github.com/kylejryan/applicant-upload-portal/internal/models"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	entries []models.WaitlistEntry
	err     error
}

func (s *recordingSink) PutWaitlist(_ context.Context, e models.WaitlistEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

var now = time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, addrLimit int, sink Sink) *Service {
	t.Helper()
	g, err := ratelimit.NewGuard("waitlist", ratelimit.NewMemoryStore(0),
		ratelimit.Rule{Limit: addrLimit, Window: 10 * time.Minute},
		ratelimit.Rule{Limit: 5, Window: 10 * time.Minute})
	require.NoError(t, err)
	return New(g, sink, WithClock(func() time.Time { return now }))
}

func TestJoin_StoresEntry(t *testing.T) {
	sink := &recordingSink{}
	s := newTestService(t, 10, sink)

	dec, err := s.Join(context.Background(), Signup{
		Email:     " Jane@Example.com ",
		Address:   "10.0.0.1",
		UserAgent: strings.Repeat("ü", 300),
		Referrer:  "https://example.com/jobs",
	})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, "jane@example.com", e.Email)
	assert.Equal(t, "2025-08-30T12:00:00Z", e.CreatedAt)
	assert.Equal(t, "WAITLIST#"+e.ID, e.PK)
	assert.Len(t, e.ID, 26)
	assert.Equal(t, 256, utf8.RuneCountInString(e.UserAgent))
	assert.Equal(t, "https://example.com/jobs", e.Referrer)
}

func TestJoin_InvalidEmailNeverReachesSink(t *testing.T) {
	sink := &recordingSink{}
	s := newTestService(t, 10, sink)

	_, err := s.Join(context.Background(), Signup{Email: "not-an-email", Address: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrInvalidEmail)
	assert.Empty(t, sink.entries)
}

func TestJoin_RateLimitedBeforeValidation(t *testing.T) {
	sink := &recordingSink{}
	s := newTestService(t, 1, sink)
	ctx := context.Background()

	_, err := s.Join(ctx, Signup{Email: "not-an-email", Address: "10.0.0.1"})
	require.ErrorIs(t, err, ErrInvalidEmail)

	dec, err := s.Join(ctx, Signup{Email: "jane@example.com", Address: "10.0.0.1"})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "waitlist:addr", dec.Space)
	assert.Equal(t, 10*time.Minute, dec.RetryAfter)
	assert.Empty(t, sink.entries)
}

func TestJoin_SinkErrors(t *testing.T) {
	boom := errors.New("dynamodb down")
	s := newTestService(t, 10, &recordingSink{err: boom})
	_, err := s.Join(context.Background(), Signup{Email: "jane@example.com", Address: "10.0.0.1"})
	assert.ErrorIs(t, err, boom)

	s = newTestService(t, 10, &recordingSink{err: ddb.ErrDuplicate})
	_, err = s.Join(context.Background(), Signup{Email: "jane@example.com", Address: "10.0.0.1"})
	assert.NoError(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("  abc ", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
}
