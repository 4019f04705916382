// Package authz provides authorization utilities for the admin endpoints.
package authz

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/kylejryan/applicant-upload-portal/internal/httpx"
)

// HeaderAdminSecret carries the shared admin secret.
const HeaderAdminSecret = "X-Admin-Secret"

var (
	// ErrUnauthorized is returned when the supplied secret does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDisabled is returned when no admin secret is configured.
	ErrDisabled = errors.New("admin endpoints disabled")
)

// AdminGate checks requests against a shared secret.
type AdminGate struct {
	secret []byte
}

func NewAdminGate(secret string) AdminGate {
	return AdminGate{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled reports whether a secret is configured.
func (g AdminGate) Enabled() bool { return len(g.secret) > 0 }

// Check returns ErrDisabled when no secret is configured and ErrUnauthorized
// when the header is missing or wrong.
func (g AdminGate) Check(h http.Header) error {
	if !g.Enabled() {
		return ErrDisabled
	}
	got := []byte(strings.TrimSpace(h.Get(HeaderAdminSecret)))
	if len(got) == 0 || subtle.ConstantTimeCompare(got, g.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Middleware answers 404 while disabled and 401 on a bad secret.
func (g AdminGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch err := g.Check(r.Header); {
		case errors.Is(err, ErrDisabled):
			http.NotFound(w, r)
		case err != nil:
			httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
