// Package main records uploaded objects on their application record when S3
// reports ObjectCreated.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/kylejryan/applicant-upload-portal/internal/applications"
	"github.com/kylejryan/applicant-upload-portal/internal/awsutil"
	"github.com/kylejryan/applicant-upload-portal/internal/config"
	"github.com/kylejryan/applicant-upload-portal/internal/ddb"
	"github.com/kylejryan/applicant-upload-portal/internal/logging"
	"github.com/kylejryan/applicant-upload-portal/internal/s3io"
	"github.com/kylejryan/applicant-upload-portal/internal/upload"
	"github.com/kylejryan/applicant-upload-portal/internal/validate"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Recorder stores what S3 reports about one object.
type Recorder interface {
	RecordUpload(ctx context.Context, key string) error
}

// App holds the application state, including configuration and AWS clients.
type App struct {
	bucket   string
	recorder Recorder
	logger   logging.Logger
}

// main initializes the app and starts the Lambda handler.
func main() {
	env := config.MustLoad()
	logger := logging.New(env.LogFormat, env.LogLevel)

	cfg, err := awsutil.Load(context.Background(), env.Region, env.Endpoint)
	if err != nil {
		log.Fatal(err)
	}
	families, err := validate.Families(env.AllowedTypes)
	if err != nil {
		log.Fatal(err)
	}

	repo := &ddb.Repo{DB: dynamodb.NewFromConfig(cfg), Table: env.Table}
	policy := upload.Policy{Prefix: env.UploadPrefix, MaxBytes: env.MaxUploadBytes, Families: families}
	app := &App{
		bucket: env.Bucket,
		recorder: applications.New(env.Bucket, policy, s3io.NewClient(cfg, ""), repo,
			applications.WithLogger(logger),
			applications.WithTimeout(env.StorageTimeout)),
		logger: logger,
	}
	lambda.Start(app.handler)
}

// ---- Handler ----

// handler processes S3 event records. A failing record does not stop the
// rest of the batch.
func (a *App) handler(ctx context.Context, ev events.S3Event) (any, error) {
	for _, rec := range ev.Records {
		if err := a.processS3Record(ctx, rec); err != nil {
			a.logger.Error("indexer: process error", "err", err)
		}
	}
	return nil, nil
}

// processS3Record handles a single S3 event record.
func (a *App) processS3Record(ctx context.Context, record events.S3EventRecord) error {
	if record.S3.Bucket.Name != a.bucket {
		a.logger.Warn("indexer: event for unexpected bucket", "bucket", record.S3.Bucket.Name)
		return nil
	}
	// Keys arrive URL-encoded with '+' for spaces.
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return fmt.Errorf("bad key %q: %w", record.S3.Object.Key, err)
	}
	if err := a.recorder.RecordUpload(ctx, key); err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	return nil
}
