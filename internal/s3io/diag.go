package s3io

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Report is the outcome of a bucket reachability check.
type Report struct {
	OK               bool              `json:"ok"`
	Time             time.Time         `json:"timeUtc"`
	Bucket           string            `json:"bucket"`
	ConfiguredRegion string            `json:"configuredRegion"`
	BucketRegion     string            `json:"bucketRegion,omitempty"`
	RegionMismatch   bool              `json:"regionMismatch"`
	HasCredentials   bool              `json:"hasCredentials"`
	ErrorOp          string            `json:"errorOp,omitempty"`
	ErrorCode        string            `json:"errorCode,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	AWSHeaders       map[string]string `json:"awsHeaders,omitempty"`
}

// Diagnose resolves the bucket's region and checks it can be reached with
// the configured credentials. It never returns an error; failures are
// described in the report.
func Diagnose(ctx context.Context, api BucketAPI, creds aws.CredentialsProvider, bucket, configuredRegion string, now time.Time) Report {
	rep := Report{Time: now.UTC(), Bucket: bucket, ConfiguredRegion: configuredRegion}
	if creds != nil {
		c, err := creds.Retrieve(ctx)
		rep.HasCredentials = err == nil && c.HasKeys()
	}

	region, err := NewRegionResolver(api).Lookup(ctx, bucket)
	if err != nil {
		rep.fail(err)
		return rep
	}
	rep.BucketRegion = region
	rep.RegionMismatch = region != configuredRegion

	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		rep.fail(&InfraError{Op: "HeadBucket", Bucket: bucket, Err: err})
		return rep
	}
	rep.OK = true
	return rep
}

func (r *Report) fail(err error) {
	r.ErrorCode = ErrorCode(err)
	r.ErrorMessage = err.Error()

	var ie *InfraError
	if errors.As(err, &ie) {
		r.ErrorOp = ie.Op
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorMessage() != "" {
		r.ErrorMessage = apiErr.ErrorMessage()
	}

	hdr := map[string]string{}
	if h := responseHeaders(err); h != nil {
		for _, k := range []string{"X-Amz-Bucket-Region", "X-Amz-Id-2", "X-Amz-Request-Id"} {
			if v := h.Get(k); v != "" {
				hdr[k] = v
			}
		}
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.RequestID != "" {
		hdr["X-Amz-Request-Id"] = re.RequestID
	}
	if len(hdr) > 0 {
		r.AWSHeaders = hdr
	}
}
