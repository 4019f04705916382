package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONAndErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]bool{"ok": true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "bad_request")
	assert.JSONEq(t, `{"error":"bad_request"}`, rec.Body.String())
}

func TestRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	RateLimited(rec, 59*time.Second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "59", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"error":"rate_limited"`)

	rec = httptest.NewRecorder()
	RateLimited(rec, 0)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestDecode(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}
	decode := func(s string) (body, error) {
		var b body
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(s))
		err := Decode(httptest.NewRecorder(), r, &b)
		return b, err
	}

	b, err := decode(`{"email":"jane@example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", b.Email)

	for _, bad := range []string{``, `{`, `{"email":1}`, `{"other":"x"}`, `{"email":"a"}{"email":"b"}`, `{"email":"` + strings.Repeat("a", MaxBodyBytes) + `"}`} {
		_, err := decode(bad)
		assert.ErrorIs(t, err, ErrBadJSON)
	}
}
