package upload

import (
	"context"
	"errors"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/s3io"

	"github.com/oklog/ulid/v2"
)

// RegionSource resolves the region a bucket lives in.
type RegionSource interface {
	Resolve(ctx context.Context, bucket string) (string, error)
}

// Config holds the Authorizer's fixed settings.
type Config struct {
	Bucket  string
	Policy  Policy
	TTL     time.Duration
	SSE     string
	Timeout time.Duration
}

// Authorizer validates intents and mints presigned PUT credentials.
type Authorizer struct {
	cfg        Config
	regions    RegionSource
	presigners s3io.PresignerSource
	now        func() time.Time
}

type Option func(*Authorizer)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

func NewAuthorizer(cfg Config, regions RegionSource, presigners s3io.PresignerSource, opts ...Option) (*Authorizer, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("bucket is required")
	case cfg.Policy.Prefix == "":
		return nil, errors.New("upload prefix is required")
	case cfg.Policy.MaxBytes <= 0:
		return nil, errors.New("max upload size must be positive")
	case len(cfg.Policy.Families) == 0:
		return nil, errors.New("at least one allowed file type is required")
	case cfg.TTL <= 0:
		return nil, errors.New("credential expiry must be positive")
	case regions == nil || presigners == nil:
		return nil, errors.New("region source and presigners are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	a := &Authorizer{
		cfg:        cfg,
		regions:    regions,
		presigners: presigners,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Policy returns the rules this Authorizer enforces.
func (a *Authorizer) Policy() Policy { return a.cfg.Policy }

// Bucket returns the bucket credentials are minted for.
func (a *Authorizer) Bucket() string { return a.cfg.Bucket }

// Authorize validates in and returns a credential for exactly that upload.
// Validation failures are *ValidationError; provider failures are
// *s3io.InfraError carrying the attempted key.
func (a *Authorizer) Authorize(ctx context.Context, in Intent) (Credential, error) {
	contentType, err := a.cfg.Policy.Check(in)
	if err != nil {
		return Credential{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	now := a.now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	key := s3io.BuildKey(a.cfg.Policy.Prefix, id.String(), in.Filename)

	region, err := a.regions.Resolve(ctx, a.cfg.Bucket)
	if err != nil {
		return Credential{}, a.infraFailure(err, key)
	}

	put, err := s3io.PresignPut(ctx, a.presigners.For(region), s3io.PutRequest{
		Bucket:      a.cfg.Bucket,
		Key:         key,
		ContentType: contentType,
		Size:        in.Size,
		SSE:         a.cfg.SSE,
		TTL:         a.cfg.TTL,
	})
	if err != nil {
		return Credential{}, a.infraFailure(err, key)
	}

	return Credential{
		Key:         key,
		URL:         put.URL,
		Method:      put.Method,
		Headers:     put.Headers,
		ContentType: contentType,
		Limits:      Limits{MinBytes: in.Size, MaxBytes: in.Size},
		ExpiresIn:   a.cfg.TTL,
		ExpiresAt:   now.Add(a.cfg.TTL),
		Region:      region,
	}, nil
}

func (a *Authorizer) infraFailure(err error, key string) error {
	var ie *s3io.InfraError
	if !errors.As(err, &ie) {
		ie = &s3io.InfraError{Op: "Authorize", Bucket: a.cfg.Bucket, Err: err}
		err = ie
	}
	if ie.Key == "" {
		ie.Key = key
	}
	return err
}
