package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kylejryan/applicant-upload-portal/internal/applications"
	"github.com/kylejryan/applicant-upload-portal/internal/httpx"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"
	"github.com/kylejryan/applicant-upload-portal/internal/s3io"
	"github.com/kylejryan/applicant-upload-portal/internal/upload"
	"github.com/kylejryan/applicant-upload-portal/internal/validate"
	"github.com/kylejryan/applicant-upload-portal/internal/waitlist"
)

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.Logger.Warn("not ready", "err", err)
			httpx.Error(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
	}
	httpx.JSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *server) presign(w http.ResponseWriter, r *http.Request) {
	var req PresignRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, upload.CodeBadRequest)
		return
	}

	id := ratelimit.Identity{Address: s.clientAddress(r), Email: req.Email}
	if !s.admit(w, r, s.PresignGuard, id) {
		return
	}

	cred, err := s.Authorizer.Authorize(r.Context(), upload.Intent{
		Filename:    req.Filename,
		Size:        req.Size,
		ContentType: req.ContentType,
	})
	if err != nil {
		s.writeUploadError(w, err, true)
		return
	}
	httpx.JSON(w, http.StatusOK, newPresignResponse(cred))
}

func (s *server) joinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req WaitlistRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_email")
		return
	}

	dec, err := s.Waitlist.Join(r.Context(), waitlist.Signup{
		Email:     req.Email,
		Address:   s.clientAddress(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	switch {
	case errors.Is(err, waitlist.ErrInvalidEmail):
		httpx.Error(w, http.StatusBadRequest, "invalid_email")
	case err != nil:
		s.Logger.Error("waitlist signup failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error")
	case !dec.Allowed:
		httpx.RateLimited(w, dec.RetryAfter)
	default:
		httpx.JSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func (s *server) applyComplete(w http.ResponseWriter, r *http.Request) {
	var req ApplyCompleteRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, upload.CodeBadRequest)
		return
	}

	app, err := s.Applications.Complete(r.Context(), applications.Submission{
		Email:       req.Email,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        req.Size,
		Key:         req.Key,
	})
	if err != nil {
		s.writeUploadError(w, err, false)
		return
	}
	httpx.JSON(w, http.StatusOK, OKResponse{OK: true, Key: app.S3Key})
}

// admit runs the guard and writes the 429 or 500 itself when the request
// may not proceed.
func (s *server) admit(w http.ResponseWriter, r *http.Request, g Admitter, id ratelimit.Identity) bool {
	dec, err := g.Admit(r.Context(), id, s.Now())
	if err != nil {
		s.Logger.Error("rate limiter failed", "path", r.URL.Path, "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error")
		return false
	}
	if !dec.Allowed {
		s.Logger.Debug("rate limited", "path", r.URL.Path, "space", dec.Space, "retry_after", dec.RetryAfter)
		httpx.RateLimited(w, dec.RetryAfter)
		return false
	}
	return true
}

// writeUploadError maps validation codes to statuses. With precise set,
// type and size failures get 415 and 413; otherwise every rejection is 400.
func (s *server) writeUploadError(w http.ResponseWriter, err error, precise bool) {
	if ve, ok := upload.IsValidation(err); ok {
		status := http.StatusBadRequest
		if precise {
			switch ve.Code {
			case upload.CodeUnsupportedType:
				status = http.StatusUnsupportedMediaType
			case upload.CodeTooLarge:
				status = http.StatusRequestEntityTooLarge
			}
		}
		httpx.ErrorMessage(w, status, ve.Code, ve.Err.Error())
		return
	}

	var ie *s3io.InfraError
	if errors.As(err, &ie) {
		s.Logger.Error("storage call failed",
			"op", ie.Op,
			"bucket", ie.Bucket,
			"key", ie.Key,
			"code", ie.Code(),
			"err", ie.Err,
		)
		httpx.Error(w, http.StatusInternalServerError, "storage_unavailable")
		return
	}
	s.Logger.Error("request failed", "err", err)
	httpx.Error(w, http.StatusInternalServerError, "internal_error")
}

func (s *server) clientAddress(r *http.Request) string {
	return ClientAddress(r, s.TrustProxy, s.ProxyHeader)
}

func (s *server) diagS3(w http.ResponseWriter, r *http.Request) {
	if s.Diagnose == nil {
		http.NotFound(w, r)
		return
	}
	rep := s.Diagnose(r.Context())
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusInternalServerError
	}
	httpx.JSON(w, status, rep)
}

func (s *server) diagLimits(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		httpx.JSON(w, http.StatusOK, map[string]ratelimit.Counters{})
		return
	}
	snap, err := s.Stats.Snapshot(r.Context())
	if err != nil {
		s.Logger.Error("limiter stats failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (s *server) listApplications(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if err := validate.Email(email); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_email")
		return
	}
	apps, err := s.Applications.ListByEmail(r.Context(), email)
	if err != nil {
		s.writeUploadError(w, err, false)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"email": ratelimit.NormalizeEmail(email), "applications": apps})
}
