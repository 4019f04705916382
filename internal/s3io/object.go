package s3io

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of the S3 client used to inspect uploaded objects.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ObjectInfo holds the stored attributes of an uploaded object.
type ObjectInfo struct {
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// HeadObject fetches object attributes. A missing object still yields an
// *InfraError; callers tell it apart with IsNotFound.
func HeadObject(ctx context.Context, api ObjectAPI, bucket, key string) (ObjectInfo, error) {
	ho, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, &InfraError{Op: "HeadObject", Bucket: bucket, Key: key, Err: err}
	}
	return ObjectInfo{
		Size:         aws.ToInt64(ho.ContentLength),
		ETag:         strings.Trim(aws.ToString(ho.ETag), `"`),
		ContentType:  strings.ToLower(aws.ToString(ho.ContentType)),
		LastModified: aws.ToTime(ho.LastModified),
	}, nil
}
