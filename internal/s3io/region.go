package s3io

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"
)

// BucketAPI is the subset of the S3 client used to locate a bucket.
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
}

// RegionResolver finds the region a bucket actually lives in. Results are
// cached per bucket; uncached lookups share a token bucket so a bad bucket
// name cannot turn every request into provider calls.
type RegionResolver struct {
	api     BucketAPI
	limiter *rate.Limiter

	mu    sync.RWMutex
	cache map[string]string
}

type RegionOption func(*RegionResolver)

// WithLookupRate allows one uncached lookup per interval with the given burst.
func WithLookupRate(every time.Duration, burst int) RegionOption {
	return func(r *RegionResolver) { r.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

func NewRegionResolver(api BucketAPI, opts ...RegionOption) *RegionResolver {
	r := &RegionResolver{
		api:     api,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		cache:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the cached region for bucket, looking it up on a miss.
func (r *RegionResolver) Resolve(ctx context.Context, bucket string) (string, error) {
	r.mu.RLock()
	region, ok := r.cache[bucket]
	r.mu.RUnlock()
	if ok {
		return region, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", &InfraError{Op: "ResolveRegion", Bucket: bucket, Err: err}
	}
	region, err := r.Lookup(ctx, bucket)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[bucket] = region
	r.mu.Unlock()
	return region, nil
}

// Forget drops a cached region, e.g. after a PermanentRedirect.
func (r *RegionResolver) Forget(bucket string) {
	r.mu.Lock()
	delete(r.cache, bucket)
	r.mu.Unlock()
}

// Lookup asks S3 directly, bypassing the cache and the throttle.
// HeadBucket answers with the region even when it fails with a redirect;
// GetBucketLocation is the fallback for endpoints that omit it.
func (r *RegionResolver) Lookup(ctx context.Context, bucket string) (string, error) {
	out, err := r.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil && out != nil && aws.ToString(out.BucketRegion) != "" {
		return aws.ToString(out.BucketRegion), nil
	}
	if region := RegionHeader(err); region != "" {
		return region, nil
	}

	loc, err := r.api.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err != nil {
		return "", &InfraError{Op: "GetBucketLocation", Bucket: bucket, Err: err}
	}
	return NormalizeLocation(string(loc.LocationConstraint)), nil
}

// NormalizeLocation maps legacy LocationConstraint values to region names.
func NormalizeLocation(loc string) string {
	switch strings.TrimSpace(loc) {
	case "":
		return "us-east-1"
	case "EU":
		return "eu-west-1"
	}
	return loc
}

// RegionHeader returns x-amz-bucket-region from a failed S3 response.
func RegionHeader(err error) string {
	return responseHeaders(err).Get("X-Amz-Bucket-Region")
}

func responseHeaders(err error) http.Header {
	var re *awshttp.ResponseError
	if !errors.As(err, &re) || re.ResponseError == nil || re.Response == nil || re.Response.Response == nil {
		return nil
	}
	return re.Response.Header
}
