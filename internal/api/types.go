// Package api contains the HTTP handlers and their request and response types.
package api

import (
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/upload"
)

// PresignRequest represents the request payload for generating a presigned S3 upload URL.
type PresignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Email       string `json:"email,omitempty"`
}

// PresignLimits is the accepted content length, in bytes.
type PresignLimits struct {
	MinBytes      int64 `json:"minBytes"`
	MaxBytes      int64 `json:"maxBytes"`
	ContentLength int64 `json:"contentLength"`
}

// PresignResponse represents the response payload containing the presigned S3 upload URL and related info.
type PresignResponse struct {
	URL         string            `json:"url"`
	Key         string            `json:"key"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	ContentType string            `json:"contentType"`
	Limits      PresignLimits     `json:"limits"`
	ExpiresIn   int               `json:"expiresIn"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	Region      string            `json:"region"`
}

func newPresignResponse(c upload.Credential) PresignResponse {
	return PresignResponse{
		URL:         c.URL,
		Key:         c.Key,
		Method:      c.Method,
		Headers:     c.Headers,
		ContentType: c.ContentType,
		Limits: PresignLimits{
			MinBytes:      c.Limits.MinBytes,
			MaxBytes:      c.Limits.MaxBytes,
			ContentLength: c.Limits.MaxBytes,
		},
		ExpiresIn: int(c.ExpiresIn / time.Second),
		ExpiresAt: c.ExpiresAt.UTC(),
		Region:    c.Region,
	}
}

// WaitlistRequest is the body of POST /waitlist.
type WaitlistRequest struct {
	Email string `json:"email"`
}

// ApplyCompleteRequest is the body of POST /apply-complete.
type ApplyCompleteRequest struct {
	Email       string `json:"email"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Key         string `json:"key"`
}

// OKResponse is the body of every plain success.
type OKResponse struct {
	OK  bool   `json:"ok"`
	Key string `json:"key,omitempty"`
}
