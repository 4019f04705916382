// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Presign expiry bounds. Anything configured outside this range is clamped.
const (
	MinPresignTTL = 60 * time.Second
	MaxPresignTTL = 300 * time.Second
)

// Env holds the configuration values for the application.
type Env struct {
	ListenAddr string
	Region     string
	Endpoint   string // AWS_ENDPOINT_URL, e.g. http://localstack:4566
	Bucket     string
	Table      string

	UploadPrefix   string
	MaxUploadBytes int64
	AllowedTypes   []string
	PresignTTL     time.Duration
	SSE            string
	StorageTimeout time.Duration

	AllowedOrigins []string
	AdminSecret    string
	TrustProxy     bool
	ProxyHeader    string

	PresignLimits  Limits
	WaitlistLimits Limits
	LimiterBackend string
	MaxTrackedKeys int
	Redis          RedisConfig

	LogLevel  string
	LogFormat string
}

// Limits pairs the per-address and per-email sliding-window rules for one route.
type Limits struct {
	AddrRequests  int
	AddrWindow    time.Duration
	EmailRequests int
	EmailWindow   time.Duration
}

// RedisConfig is only consulted when LimiterBackend is "redis".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MustLoad reads the environment variables and returns an Env struct.
func MustLoad() Env {
	e, err := Load()
	if err != nil {
		panic(err)
	}
	return e
}

// Load reads a local .env file when present, then the process environment.
func Load() (Env, error) {
	_ = godotenv.Load()

	var errs []error
	num := func(k string, def int) int {
		v, err := atoi(k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	secs := func(k string, def int) time.Duration {
		return time.Duration(num(k, def)) * time.Second
	}

	e := Env{
		ListenAddr: get("LISTEN_ADDR", ":8080"),
		Region:     get("AWS_REGION", "us-east-1"),
		Endpoint:   get("AWS_ENDPOINT_URL", ""),
		Bucket:     get("S3_BUCKET", ""),
		Table:      get("DDB_TABLE", ""),

		UploadPrefix:   strings.Trim(get("UPLOAD_PREFIX", "uploads"), "/"),
		MaxUploadBytes: int64(num("MAX_UPLOAD_BYTES", 10*1024*1024)),
		AllowedTypes:   list(get("ALLOWED_TYPES", "pdf")),
		PresignTTL:     ClampTTL(secs("PRESIGN_TTL_SECONDS", 300)),
		SSE:            sse(get("S3_SSE", "AES256")),

		AllowedOrigins: list(get("ALLOWED_ORIGINS", "*")),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		TrustProxy:     get("TRUST_PROXY", "") == "true",
		ProxyHeader:    get("PROXY_HEADER", "X-Forwarded-For"),

		PresignLimits: Limits{
			AddrRequests:  num("RATE_LIMIT_IP_REQUESTS", 30),
			AddrWindow:    secs("RATE_LIMIT_IP_WINDOW_SECONDS", 600),
			EmailRequests: num("RATE_LIMIT_EMAIL_REQUESTS", 10),
			EmailWindow:   secs("RATE_LIMIT_EMAIL_WINDOW_SECONDS", 600),
		},
		WaitlistLimits: Limits{
			AddrRequests:  num("WAITLIST_IP_REQUESTS", 10),
			AddrWindow:    secs("WAITLIST_IP_WINDOW_SECONDS", 600),
			EmailRequests: num("WAITLIST_EMAIL_REQUESTS", 5),
			EmailWindow:   secs("WAITLIST_EMAIL_WINDOW_SECONDS", 600),
		},
		LimiterBackend: strings.ToLower(get("RATE_LIMIT_BACKEND", "memory")),
		MaxTrackedKeys: num("RATE_LIMIT_MAX_KEYS", 10000),
		Redis: RedisConfig{
			Addr:     get("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       num("REDIS_DB", 0),
		},

		LogLevel:  get("LOG_LEVEL", "info"),
		LogFormat: get("LOG_FORMAT", "json"),
	}

	timeout, err := time.ParseDuration(get("STORAGE_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid STORAGE_TIMEOUT: %w", err))
	}
	e.StorageTimeout = timeout

	if err := errors.Join(errs...); err != nil {
		return Env{}, err
	}
	if err := e.Validate(); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Validate reports missing or out-of-range settings.
func (e Env) Validate() error {
	var errs []error
	if e.Bucket == "" {
		errs = append(errs, errors.New("missing env S3_BUCKET"))
	}
	if e.Table == "" {
		errs = append(errs, errors.New("missing env DDB_TABLE"))
	}
	if e.UploadPrefix == "" {
		errs = append(errs, errors.New("UPLOAD_PREFIX must not be empty"))
	}
	if e.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be > 0"))
	}
	if len(e.AllowedTypes) == 0 {
		errs = append(errs, errors.New("ALLOWED_TYPES must name at least one type"))
	}
	for name, l := range map[string]Limits{"RATE_LIMIT": e.PresignLimits, "WAITLIST": e.WaitlistLimits} {
		if l.AddrRequests <= 0 || l.AddrWindow <= 0 || l.EmailRequests <= 0 || l.EmailWindow <= 0 {
			errs = append(errs, fmt.Errorf("%s limits must have positive values", name))
		}
	}
	switch e.LimiterBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", e.LimiterBackend))
	}
	if e.MaxTrackedKeys <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX_KEYS must be > 0"))
	}
	if e.StorageTimeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

// ClampTTL keeps a presign expiry inside [MinPresignTTL, MaxPresignTTL].
func ClampTTL(d time.Duration) time.Duration {
	switch {
	case d < MinPresignTTL:
		return MinPresignTTL
	case d > MaxPresignTTL:
		return MaxPresignTTL
	}
	return d
}

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func atoi(k string, def int) (int, error) {
	v := get(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

// sse maps "none" to no pinned encryption header.
func sse(v string) string {
	if strings.EqualFold(v, "none") {
		return ""
	}
	return v
}

// list splits a comma separated value, dropping blanks.
func list(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
