package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/applications"
	"github.com/kylejryan/applicant-upload-portal/internal/authz"
	"github.com/kylejryan/applicant-upload-portal/internal/models"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"
	"github.com/kylejryan/applicant-upload-portal/internal/s3io"
	"github.com/kylejryan/applicant-upload-portal/internal/upload"
	"github.com/kylejryan/applicant-upload-portal/internal/validate"
	"github.com/kylejryan/applicant-upload-portal/internal/waitlist"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRegion struct{ err error }

func (s staticRegion) Resolve(context.Context, string) (string, error) { return "us-west-2", s.err }

type stubPresigner struct{}

func (stubPresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:          "https://applications.s3.us-west-2.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=sig",
		Method:       http.MethodPut,
		SignedHeader: http.Header{"Content-Type": {aws.ToString(in.ContentType)}},
	}, nil
}

type stubPresigners struct{}

func (stubPresigners) For(string) s3io.Presigner { return stubPresigner{} }

type memSink struct {
	entries []models.WaitlistEntry
	apps    []models.Application
}

func (m *memSink) PutWaitlist(_ context.Context, e models.WaitlistEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) SubmitApplication(_ context.Context, a models.Application) error {
	m.apps = append(m.apps, a)
	return nil
}

func (m *memSink) MarkUploaded(context.Context, string, int64, string, string) error { return nil }

func (m *memSink) ListByEmail(_ context.Context, email string) ([]models.Application, error) {
	var out []models.Application
	for _, a := range m.apps {
		if a.Email == email {
			out = append(out, a)
		}
	}
	return out, nil
}

type objects map[string]int64

func (o objects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := o[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(size), ETag: aws.String(`"e"`)}, nil
}

type testEnv struct {
	handler http.Handler
	sink    *memSink
	objects objects
	stats   *ratelimit.MemoryStats
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	store := ratelimit.NewMemoryStore(0)
	stats := ratelimit.NewMemoryStats()

	presignGuard, err := ratelimit.NewGuard("presign", store,
		ratelimit.Rule{Limit: 3, Window: 10 * time.Minute},
		ratelimit.Rule{Limit: 2, Window: 10 * time.Minute},
		ratelimit.WithStats(stats))
	require.NoError(t, err)
	waitlistGuard, err := ratelimit.NewGuard("waitlist", store,
		ratelimit.Rule{Limit: 2, Window: 10 * time.Minute},
		ratelimit.Rule{Limit: 5, Window: 10 * time.Minute},
		ratelimit.WithStats(stats))
	require.NoError(t, err)

	policy := upload.Policy{Prefix: "uploads", MaxBytes: 10 << 20, Families: []validate.Family{validate.PDF}}
	authorizer, err := upload.NewAuthorizer(upload.Config{
		Bucket: "applications", Policy: policy, TTL: 300 * time.Second, SSE: "AES256",
	}, staticRegion{}, stubPresigners{})
	require.NoError(t, err)

	sink := &memSink{}
	objs := objects{}
	d := Deps{
		PresignGuard: presignGuard,
		Authorizer:   authorizer,
		Waitlist:     waitlist.New(waitlistGuard, sink),
		Applications: applications.New("applications", policy, objs, sink),
		Stats:        stats,
		Diagnose: func(context.Context) s3io.Report {
			return s3io.Report{OK: true, Bucket: "applications", BucketRegion: "us-west-2"}
		},
		Admin:       authz.NewAdminGate("s3cret"),
		TrustProxy:  true,
		ProxyHeader: "X-Forwarded-For",
	}
	for _, opt := range opts {
		opt(&d)
	}
	return &testEnv{handler: NewRouter(d), sink: sink, objects: objs, stats: stats}
}

func (e *testEnv) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func fromIP(ip string) map[string]string { return map[string]string{"X-Forwarded-For": ip + ", 10.0.0.1"} }

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthz(t *testing.T) {
	rec := newTestEnv(t).do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Ready = func(context.Context) error { return errors.New("table missing") } })
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/readyz", "", nil).Code)
}

func TestPresign_OK(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/s3/presign",
		`{"filename":"resume.pdf","contentType":"application/pdf","size":5000000}`, fromIP("203.0.113.1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PresignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, regexp.MustCompile(`^uploads/.+resume\.pdf$`), resp.Key)
	assert.Equal(t, http.MethodPut, resp.Method)
	assert.Equal(t, "application/pdf", resp.ContentType)
	assert.Equal(t, "application/pdf", resp.Headers["Content-Type"])
	assert.Equal(t, int64(5000000), resp.Limits.ContentLength)
	assert.Equal(t, 300, resp.ExpiresIn)
	assert.Equal(t, "us-west-2", resp.Region)
}

func TestPresign_ValidationStatuses(t *testing.T) {
	tests := []struct {
		body   string
		status int
		code   string
	}{
		{`{"filename":"resume.pdf","contentType":"application/pdf"}`, http.StatusBadRequest, "bad_request"},
		{`not json`, http.StatusBadRequest, "bad_request"},
		{`{"filename":"resume.exe","contentType":"application/pdf","size":10}`, http.StatusUnsupportedMediaType, "unsupported_type"},
		{`{"filename":"resume.pdf","contentType":"application/pdf","size":20000000}`, http.StatusRequestEntityTooLarge, "too_large"},
	}
	for i, tc := range tests {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/s3/presign", tc.body, fromIP("203.0.113.1"))
		assert.Equalf(t, tc.status, rec.Code, "case %d", i)
		assert.Equalf(t, tc.code, errorCode(t, rec), "case %d", i)
	}
}

func TestPresign_RateLimitedByAddress(t *testing.T) {
	env := newTestEnv(t)
	body := `{"filename":"resume.pdf","contentType":"application/pdf","size":10}`

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/s3/presign", body, fromIP("203.0.113.1")).Code)
	}
	rec := env.do(http.MethodPost, "/s3/presign", body, fromIP("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/s3/presign", body, fromIP("203.0.113.2")).Code)
}

func TestPresign_RateLimitedByEmail(t *testing.T) {
	env := newTestEnv(t)
	body := `{"filename":"resume.pdf","contentType":"application/pdf","size":10,"email":"jane@example.com"}`

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/s3/presign", body, fromIP("203.0.113.1")).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/s3/presign", body, fromIP("203.0.113.2")).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, "/s3/presign", body, fromIP("203.0.113.3")).Code)
}

func TestPresign_StorageFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		a, err := upload.NewAuthorizer(upload.Config{
			Bucket: "applications",
			Policy: upload.Policy{Prefix: "uploads", MaxBytes: 10 << 20, Families: []validate.Family{validate.PDF}},
			TTL:    time.Minute,
		}, staticRegion{err: &s3io.InfraError{Op: "GetBucketLocation", Bucket: "applications", Err: &smithy.GenericAPIError{Code: "AccessDenied"}}}, stubPresigners{})
		require.NoError(t, err)
		d.Authorizer = a
	})
	rec := env.do(http.MethodPost, "/s3/presign", `{"filename":"resume.pdf","contentType":"application/pdf","size":10}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "storage_unavailable", errorCode(t, rec))
}

func TestWaitlist(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/waitlist", `{"email":"not-an-email"}`, fromIP("198.51.100.7"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_email", errorCode(t, rec))
	assert.Empty(t, env.sink.entries)

	rec = env.do(http.MethodPost, "/waitlist", `{"email":"jane@example.com"}`, map[string]string{
		"X-Forwarded-For": "198.51.100.7",
		"User-Agent":      "test-agent",
		"Referer":         "https://example.com/",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.sink.entries, 1)
	assert.Equal(t, "test-agent", env.sink.entries[0].UserAgent)
	assert.Equal(t, "https://example.com/", env.sink.entries[0].Referrer)

	rec = env.do(http.MethodPost, "/waitlist", `{"email":"bob@example.com"}`, fromIP("198.51.100.7"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Retry-After"))
}

func TestApplyComplete(t *testing.T) {
	env := newTestEnv(t)
	env.objects["uploads/01J0-resume.pdf"] = 2048

	body := `{"email":"jane@example.com","filename":"resume.pdf","contentType":"application/pdf","size":2048,"key":"uploads/01J0-resume.pdf"}`
	rec := env.do(http.MethodPost, "/apply-complete", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, env.sink.apps, 1)
	assert.Equal(t, models.StatusSubmitted, env.sink.apps[0].Status)

	for _, bad := range []string{
		`{"email":"nope","filename":"resume.pdf","contentType":"application/pdf","size":2048,"key":"uploads/01J0-resume.pdf"}`,
		`{"email":"jane@example.com","filename":"resume.pdf","contentType":"application/pdf","size":2048,"key":"secrets/x.pdf"}`,
		`{"email":"jane@example.com","filename":"resume.pdf","contentType":"application/pdf","size":20000000,"key":"uploads/01J0-resume.pdf"}`,
		`{"email":"jane@example.com","filename":"resume.pdf","contentType":"application/pdf","size":2048,"key":"uploads/01J1-missing.pdf"}`,
	} {
		rec := env.do(http.MethodPost, "/apply-complete", bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
	assert.Len(t, env.sink.apps, 1)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{authz.HeaderAdminSecret: "s3cret"}

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/diag/s3", "", nil).Code)

	rec := env.do(http.MethodGet, "/diag/s3", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bucketRegion":"us-west-2"`)

	env.do(http.MethodPost, "/waitlist", `{"email":"jane@example.com"}`, fromIP("198.51.100.7"))
	rec = env.do(http.MethodGet, "/diag/limits", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap map[string]ratelimit.Counters
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap["waitlist"].Allowed)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/admin/applications?email=bad", "", admin).Code)
	rec = env.do(http.MethodGet, "/admin/applications?email=jane@example.com", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutes_DisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Admin = authz.NewAdminGate("") })
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/diag/s3", "", map[string]string{authz.HeaderAdminSecret: "x"}).Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.AllowedOrigins = []string{"https://jobs.example.com"} })
	rec := env.do(http.MethodOptions, "/s3/presign", "", map[string]string{
		"Origin":                        "https://jobs.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "https://jobs.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "203.0.113.9", ClientAddress(r, true, "X-Forwarded-For"))
	assert.Equal(t, "192.0.2.10", ClientAddress(r, false, "X-Forwarded-For"), "untrusted proxy header is ignored")

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "192.0.2.10", ClientAddress(r, true, "X-Forwarded-For"))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientAddress(r, true, "X-Forwarded-For"))
}
