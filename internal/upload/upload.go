// Package upload decides whether a client may upload a file and mints the
// presigned credential that lets it write exactly that file to S3.
package upload

import (
	"errors"
	"fmt"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/validate"
)

// Validation codes returned to clients.
const (
	CodeBadRequest      = "bad_request"
	CodeUnsupportedType = "unsupported_type"
	CodeTooLarge        = "too_large"
)

// Intent is what a client declares it is about to upload. It is never stored.
type Intent struct {
	Filename    string
	Size        int64
	ContentType string
}

// Limits is the content-length range the credential accepts, in bytes.
type Limits struct {
	MinBytes int64
	MaxBytes int64
}

// Credential lets the holder perform one PUT of the declared object.
type Credential struct {
	Key         string
	URL         string
	Method      string
	Headers     map[string]string
	ContentType string
	Limits      Limits
	ExpiresIn   time.Duration
	ExpiresAt   time.Time
	Region      string
}

// ValidationError is a caller-fixable rejection of an Intent.
type ValidationError struct {
	Code string
	Err  error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a *ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// Policy is the fixed set of rules every upload must satisfy.
type Policy struct {
	Prefix   string
	MaxBytes int64
	Families []validate.Family
}

// Check validates in and returns its normalized content type. Rules are
// applied in order and the first failure wins: required fields, then type
// and extension, then size.
func (p Policy) Check(in Intent) (string, error) {
	if err := validate.Required(in.Filename, in.ContentType, in.Size); err != nil {
		return "", &ValidationError{Code: CodeBadRequest, Err: err}
	}
	if _, err := validate.TypeAndExtension(in.Filename, in.ContentType, p.Families); err != nil {
		return "", &ValidationError{Code: CodeUnsupportedType, Err: err}
	}
	if err := validate.Size(in.Size, p.MaxBytes); err != nil {
		return "", &ValidationError{Code: CodeTooLarge, Err: err}
	}
	return validate.NormalizeContentType(in.ContentType), nil
}
