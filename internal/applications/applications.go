// Package applications records confirmed job applications and reconciles them
// with what actually landed in S3.
package applications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/ddb"
	"github.com/kylejryan/applicant-upload-portal/internal/logging"
	"github.com/kylejryan/applicant-upload-portal/internal/models"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"
	"github.com/kylejryan/applicant-upload-portal/internal/s3io"
	"github.com/kylejryan/applicant-upload-portal/internal/upload"
	"github.com/kylejryan/applicant-upload-portal/internal/validate"
)

// Error codes for rejected submissions, in addition to the upload codes.
const (
	CodeInvalidEmail   = "invalid_email"
	CodeInvalidKey     = "invalid_key"
	CodeUploadNotFound = "upload_not_found"
	CodeSizeMismatch   = "size_mismatch"
)

var (
	ErrUploadNotFound = errors.New("uploaded object not found")
	ErrSizeMismatch   = errors.New("uploaded object size does not match the declared size")
)

// Store is where application records live.
type Store interface {
	SubmitApplication(ctx context.Context, a models.Application) error
	MarkUploaded(ctx context.Context, s3Key string, size int64, etag, uploadedAt string) error
	ListByEmail(ctx context.Context, email string) ([]models.Application, error)
}

// Submission is the applicant's confirmation after a successful upload.
type Submission struct {
	Email       string
	Filename    string
	ContentType string
	Size        int64
	Key         string
}

// Service validates submissions against the upload policy and stores them.
type Service struct {
	bucket  string
	policy  upload.Policy
	objects s3io.ObjectAPI
	store   Store
	timeout time.Duration
	logger  logging.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTimeout bounds the HeadObject call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(bucket string, policy upload.Policy, objects s3io.ObjectAPI, store Store, opts ...Option) *Service {
	s := &Service{
		bucket:  bucket,
		policy:  policy,
		objects: objects,
		store:   store,
		timeout: 5 * time.Second,
		logger:  logging.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete checks the submission and records it as SUBMITTED. The object
// must exist under the upload prefix with the declared size.
func (s *Service) Complete(ctx context.Context, in Submission) (models.Application, error) {
	if err := validate.Email(in.Email); err != nil {
		return models.Application{}, &upload.ValidationError{Code: CodeInvalidEmail, Err: err}
	}
	if err := validate.ObjectKey(in.Key, s.policy.Prefix); err != nil {
		return models.Application{}, &upload.ValidationError{Code: CodeInvalidKey, Err: err}
	}
	if _, name, ok := s3io.ParseKey(s.policy.Prefix, in.Key); !ok || name != s3io.SanitizeFilename(in.Filename) {
		return models.Application{}, &upload.ValidationError{Code: CodeInvalidKey, Err: validate.ErrInvalidKey}
	}
	contentType, err := s.policy.Check(upload.Intent{Filename: in.Filename, Size: in.Size, ContentType: in.ContentType})
	if err != nil {
		return models.Application{}, err
	}

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	info, err := s3io.HeadObject(hctx, s.objects, s.bucket, in.Key)
	cancel()
	switch {
	case s3io.IsNotFound(err):
		return models.Application{}, &upload.ValidationError{Code: CodeUploadNotFound, Err: ErrUploadNotFound}
	case err != nil:
		return models.Application{}, err
	case info.Size != in.Size:
		return models.Application{}, &upload.ValidationError{
			Code: CodeSizeMismatch,
			Err:  fmt.Errorf("%w: declared %d, stored %d", ErrSizeMismatch, in.Size, info.Size),
		}
	}

	pk, sk := ddb.ApplicationKeys(in.Key)
	app := models.Application{
		PK:           pk,
		SK:           sk,
		Email:        ratelimit.NormalizeEmail(in.Email),
		Filename:     in.Filename,
		ContentType:  contentType,
		DeclaredSize: in.Size,
		S3Key:        in.Key,
		Status:       models.StatusSubmitted,
		SubmittedAt:  ddb.NowISO(s.now()),
		SizeBytes:    info.Size,
		ETag:         info.ETag,
	}
	if err := s.store.SubmitApplication(ctx, app); err != nil {
		return models.Application{}, fmt.Errorf("submit %s: %w", in.Key, err)
	}
	s.logger.Info("application submitted", "key", in.Key, "size", in.Size)
	return app, nil
}

// RecordUpload stores the size and etag S3 reports for a new object. Keys
// outside the upload prefix are ignored.
func (s *Service) RecordUpload(ctx context.Context, key string) error {
	if err := validate.ObjectKey(key, s.policy.Prefix); err != nil {
		s.logger.Warn("ignoring object outside upload prefix", "key", key)
		return nil
	}

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	info, err := s3io.HeadObject(hctx, s.objects, s.bucket, key)
	cancel()
	if err != nil {
		return err
	}
	if ct := validate.NormalizeContentType(info.ContentType); ct != "" {
		if _, err := validate.TypeAndExtension(key, ct, s.policy.Families); err != nil {
			s.logger.Warn("unexpected content type", "key", key, "content_type", ct)
		}
	}

	uploadedAt := info.LastModified
	if uploadedAt.IsZero() {
		uploadedAt = s.now()
	}
	if err := s.store.MarkUploaded(ctx, key, info.Size, info.ETag, ddb.NowISO(uploadedAt)); err != nil {
		return fmt.Errorf("mark uploaded %s: %w", key, err)
	}
	s.logger.Info("upload recorded", "key", key, "size", info.Size, "etag", info.ETag)
	return nil
}

// ListByEmail returns the applications submitted under email.
func (s *Service) ListByEmail(ctx context.Context, email string) ([]models.Application, error) {
	if err := validate.Email(email); err != nil {
		return nil, &upload.ValidationError{Code: CodeInvalidEmail, Err: err}
	}
	return s.store.ListByEmail(ctx, ratelimit.NormalizeEmail(email))
}
