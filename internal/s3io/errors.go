package s3io

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// InfraError is a failed call to the storage provider. It is never the
// caller's fault and carries enough context to log without credentials.
type InfraError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *InfraError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 %s s3://%s: %v", e.Op, e.Bucket, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Code is the provider error code, or a local classification.
func (e *InfraError) Code() string { return ErrorCode(e.Err) }

// ErrorCode extracts the AWS error code from err ("AccessDenied",
// "NoSuchBucket", ...). Deadline and cancellation map to "Timeout" and
// "Canceled"; anything else is "Unknown".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() != "" {
		return apiErr.ErrorCode()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	return "Unknown"
}

// IsNotFound reports whether err is a missing object or bucket.
func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case "NotFound", "NoSuchKey", "NoSuchBucket", "404":
		return true
	}
	return false
}
