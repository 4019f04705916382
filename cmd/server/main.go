// Package main runs the applicant upload portal HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/api"
	"github.com/kylejryan/applicant-upload-portal/internal/applications"
	"github.com/kylejryan/applicant-upload-portal/internal/authz"
	"github.com/kylejryan/applicant-upload-portal/internal/awsutil"
	"github.com/kylejryan/applicant-upload-portal/internal/config"
	"github.com/kylejryan/applicant-upload-portal/internal/ddb"
	"github.com/kylejryan/applicant-upload-portal/internal/logging"
	"github.com/kylejryan/applicant-upload-portal/internal/ratelimit"
	"github.com/kylejryan/applicant-upload-portal/internal/s3io"
	"github.com/kylejryan/applicant-upload-portal/internal/upload"
	"github.com/kylejryan/applicant-upload-portal/internal/validate"
	"github.com/kylejryan/applicant-upload-portal/internal/waitlist"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorEvery    = time.Minute
	statsTTL        = 24 * time.Hour
)

func main() {
	env, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(env.LogFormat, env.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, closeFn, err := build(ctx, env, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer closeFn()

	srv := &http.Server{
		Addr:              env.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", env.ListenAddr, "bucket", env.Bucket, "limiter", env.LimiterBackend)
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

// build constructs every dependency from env. The returned func releases
// whatever build opened.
func build(ctx context.Context, env config.Env, logger logging.Logger) (http.Handler, func(), error) {
	awsConf, err := awsutil.Load(ctx, env.Region, env.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	s3c := s3io.NewClient(awsConf, "")
	repo := &ddb.Repo{DB: dynamodb.NewFromConfig(awsConf), Table: env.Table}

	store, stats, closeFn, err := initLimiter(ctx, env)
	if err != nil {
		return nil, nil, err
	}

	presignGuard, err := ratelimit.NewGuard("presign", store, addrRule(env.PresignLimits), emailRule(env.PresignLimits), ratelimit.WithStats(stats))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	waitlistGuard, err := ratelimit.NewGuard("waitlist", store, addrRule(env.WaitlistLimits), emailRule(env.WaitlistLimits), ratelimit.WithStats(stats))
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	families, err := validate.Families(env.AllowedTypes)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	policy := upload.Policy{Prefix: env.UploadPrefix, MaxBytes: env.MaxUploadBytes, Families: families}

	regions := s3io.NewRegionResolver(s3c)
	authorizer, err := upload.NewAuthorizer(upload.Config{
		Bucket:  env.Bucket,
		Policy:  policy,
		TTL:     env.PresignTTL,
		SSE:     env.SSE,
		Timeout: env.StorageTimeout,
	}, regions, s3io.NewRegionalPresigners(awsConf))
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	handler := api.NewRouter(api.Deps{
		PresignGuard: presignGuard,
		Authorizer:   authorizer,
		Waitlist:     waitlist.New(waitlistGuard, repo, waitlist.WithLogger(logger)),
		Applications: applications.New(env.Bucket, policy, s3c, repo,
			applications.WithLogger(logger),
			applications.WithTimeout(env.StorageTimeout)),
		Stats: stats,
		Diagnose: func(ctx context.Context) s3io.Report {
			ctx, cancel := context.WithTimeout(ctx, env.StorageTimeout)
			defer cancel()
			return s3io.Diagnose(ctx, s3c, awsConf.Credentials, env.Bucket, env.Region, time.Now())
		},
		Ready: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, env.StorageTimeout)
			defer cancel()
			return repo.Ping(ctx)
		},
		Admin:          authz.NewAdminGate(env.AdminSecret),
		AllowedOrigins: env.AllowedOrigins,
		TrustProxy:     env.TrustProxy,
		ProxyHeader:    env.ProxyHeader,
		Logger:         logger,
	})
	return handler, closeFn, nil
}

// initLimiter picks the limiter backend. The memory backend is per process;
// run the redis backend when more than one instance serves traffic.
func initLimiter(ctx context.Context, env config.Env) (ratelimit.Store, ratelimit.Stats, func(), error) {
	switch env.LimiterBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     env.Redis.Addr,
			Password: env.Redis.Password,
			DB:       env.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				log.Printf("failed to close redis: %v", err)
			}
		}
		return ratelimit.NewRedisStore(rdb), ratelimit.NewRedisStats(rdb, "", statsTTL), closeFn, nil
	case "memory":
		store := ratelimit.NewMemoryStore(env.MaxTrackedKeys)
		store.StartJanitor(ctx, janitorEvery)
		return store, ratelimit.NewMemoryStats(), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported limiter backend: %s", env.LimiterBackend)
	}
}

func addrRule(l config.Limits) ratelimit.Rule {
	return ratelimit.Rule{Limit: l.AddrRequests, Window: l.AddrWindow}
}

func emailRule(l config.Limits) ratelimit.Rule {
	return ratelimit.Rule{Limit: l.EmailRequests, Window: l.EmailWindow}
}
