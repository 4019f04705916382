// Package s3io provides utilities for working with S3: presigned uploads,
// bucket region resolution and object lookups.
package s3io

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Presigner defines the interface for presigning S3 requests.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// HeaderSSE is the canonical form of the server-side encryption header.
const HeaderSSE = "X-Amz-Server-Side-Encryption"

// PutRequest describes the single object a presigned PUT may write.
type PutRequest struct {
	Bucket      string
	Key         string
	ContentType string
	Size        int64
	SSE         string
	TTL         time.Duration
}

// PresignedPut is what the client needs to perform the upload.
type PresignedPut struct {
	URL     string
	Method  string
	Headers map[string]string
}

// PresignPut signs a PUT pinned to the content type, exact content length
// and server-side encryption in req. Any deviation by the client fails the
// signature check at S3.
func PresignPut(ctx context.Context, p Presigner, req PutRequest) (PresignedPut, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(req.Key),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.Size),
	}
	if req.SSE != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(req.SSE)
	}

	signed, err := p.PresignPutObject(ctx, input, func(o *s3.PresignOptions) { o.Expires = req.TTL })
	if err != nil {
		return PresignedPut{}, &InfraError{Op: "PresignPutObject", Bucket: req.Bucket, Key: req.Key, Err: err}
	}
	return PresignedPut{
		URL:     signed.URL,
		Method:  signed.Method,
		Headers: clientHeaders(signed.SignedHeader, req),
	}, nil
}

// clientHeaders lists the signed headers a browser must send. Host and
// Content-Length are set by the user agent itself.
func clientHeaders(signed http.Header, req PutRequest) map[string]string {
	out := map[string]string{"Content-Type": req.ContentType}
	if req.SSE != "" {
		out[HeaderSSE] = req.SSE
	}
	for k, v := range signed {
		k = http.CanonicalHeaderKey(k)
		switch k {
		case "Host", "Content-Length":
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
