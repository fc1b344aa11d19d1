package config

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile         string
	LogLevel        string
	HTTPAddr        string
	OpsRateLimitRPM int
	ShutdownTimeout time.Duration

	DatabaseDriver          string
	DatabaseURL             string
	DatabaseMaxOpenConns    int
	DatabaseMaxIdleConns    int
	DatabaseConnMaxLifetime time.Duration

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UserCacheTTL         time.Duration
	UserCachePrefix      string
	NegativeLookupTTL    time.Duration
	RBACPermissionTTL    time.Duration
	CacheBreakerFailures uint32
	CacheBreakerOpenFor  time.Duration

	RefreshTokenPepper string
	RefreshTokenTTL    time.Duration
	AccessTokenTTL     time.Duration
	JWTIssuer          string
	JWTAudience        string
	JWTAccessSecret    string
	SweepSchedule      string

	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment after applying ENV_FILE
// (default .env) without overriding variables that are already set.
func Load() (*Config, error) {
	cfg, err := load()
	recordLoad(context.Background(), getEnv("APP_PROFILE", "local"), err)
	return cfg, err
}

func load() (*Config, error) {
	if err := LoadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}
	p := &parser{}
	cfg := &Config{
		Profile:         canonicalProfile(getEnv("APP_PROFILE", "local")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8081"),
		OpsRateLimitRPM: p.int("OPS_RATE_LIMIT_RPM", 600),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		DatabaseDriver:          strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DatabaseMaxOpenConns:    p.int("DATABASE_MAX_OPEN_CONNS", 20),
		DatabaseMaxIdleConns:    p.int("DATABASE_MAX_IDLE_CONNS", 5),
		DatabaseConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),

		RedisEnabled:  p.bool("REDIS_ENABLED", true),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.int("REDIS_DB", 0),

		UserCacheTTL:         p.duration("USER_CACHE_TTL", time.Hour),
		UserCachePrefix:      os.Getenv("USER_CACHE_PREFIX"),
		NegativeLookupTTL:    p.duration("NEGATIVE_LOOKUP_TTL", 30*time.Second),
		RBACPermissionTTL:    p.duration("RBAC_PERMISSION_CACHE_TTL", 5*time.Minute),
		CacheBreakerFailures: uint32(p.int("CACHE_BREAKER_FAILURES", 5)),
		CacheBreakerOpenFor:  p.duration("CACHE_BREAKER_OPEN_FOR", 10*time.Second),

		RefreshTokenPepper: os.Getenv("REFRESH_TOKEN_PEPPER"),
		RefreshTokenTTL:    p.duration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AccessTokenTTL:     p.duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		JWTIssuer:          getEnv("JWT_ISSUER", "streaming-identity-core"),
		JWTAudience:        getEnv("JWT_AUDIENCE", "streaming-platform"),
		JWTAccessSecret:    os.Getenv("JWT_ACCESS_SECRET"),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 15m"),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "streaming-identity-core"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "local"),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 10*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, "DATABASE_DRIVER must be postgres or sqlite")
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.RefreshTokenPepper == "" {
		problems = append(problems, "REFRESH_TOKEN_PEPPER is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		problems = append(problems, "JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if c.RefreshTokenTTL <= 0 || c.AccessTokenTTL <= 0 {
		problems = append(problems, "token TTLs must be positive")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		problems = append(problems, "REDIS_ADDR is required when REDIS_ENABLED")
	}
	if c.Profile == "prod" && c.DatabaseDriver == "sqlite" {
		problems = append(problems, "sqlite is not allowed in prod")
	}
	if len(problems) > 0 {
		return &LoadError{Stage: StageValidation, Err: errors.New(strings.Join(problems, "; "))}
	}
	return nil
}

type parser struct{ err error }

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = &LoadError{Stage: StageParse, Key: key, Err: err}
	}
}

func (p *parser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
