package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/applications"
	"github.com/kylejryan/applicant-upload-portal/internal/authz"
	"github.com/kylejryan/applicant-upload-portal/internal/logging"
	"github.com/kylejryan/applicant-upload-portal/internal/models"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"
	"github.com/kylejryan/applicant-upload-portal/internal/s3io"
	"github.com/kylejryan/applicant-upload-portal/internal/upload"
	"github.com/kylejryan/applicant-upload-portal/internal/waitlist"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Admitter rate limits one route.
type Admitter interface {
	Admit(ctx context.Context, id ratelimit.Identity, now time.Time) (ratelimit.Decision, error)
}

// Authorizer mints upload credentials.
type Authorizer interface {
	Authorize(ctx context.Context, in upload.Intent) (upload.Credential, error)
}

// Waitlist admits waitlist signups.
type Waitlist interface {
	Join(ctx context.Context, in waitlist.Signup) (ratelimit.Decision, error)
}

// Applications records and lists submissions.
type Applications interface {
	Complete(ctx context.Context, in applications.Submission) (models.Application, error)
	ListByEmail(ctx context.Context, email string) ([]models.Application, error)
}

// Deps is everything the router needs. Diagnose and Ready may be nil.
type Deps struct {
	PresignGuard Admitter
	Authorizer   Authorizer
	Waitlist     Waitlist
	Applications Applications
	Stats        ratelimit.Stats
	Diagnose     func(ctx context.Context) s3io.Report
	Ready        func(ctx context.Context) error

	Admin          authz.AdminGate
	AllowedOrigins []string
	TrustProxy     bool
	ProxyHeader    string

	Logger logging.Logger
	Now    func() time.Time
}

type server struct {
	Deps
}

// NewRouter wires every route.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", authz.HeaderAdminSecret},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Post("/waitlist", s.joinWaitlist)
	r.Post("/s3/presign", s.presign)
	r.Post("/apply-complete", s.applyComplete)

	r.Group(func(r chi.Router) {
		r.Use(d.Admin.Middleware)
		r.Get("/diag/s3", s.diagS3)
		r.Get("/diag/limits", s.diagLimits)
		r.Get("/admin/applications", s.listApplications)
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
