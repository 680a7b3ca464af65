/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Executor kinds.
const (
	ExecutorLocal = "local"
	ExecutorNATS  = "nats"
)

// Event bus kinds.
const (
	EventBusLocal = "local"
	EventBusRedis = "redis"
	EventBusNATS  = "nats"
)

// Archive backends for terminal job reports.
const (
	ArchiveNone       = "none"
	ArchiveFilesystem = "fs"
	ArchiveS3         = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Scheduler policy
	Horizon            time.Duration
	Epsilon            time.Duration
	TickInterval       time.Duration
	ReoptimizeInterval time.Duration
	FetchTimeout       time.Duration
	PUE                float64
	DefaultRegion      string

	// Forecast providers
	ProvidersFile        string // YAML region routing, optional
	ProviderKind         string // used when no routing file is given
	ElectricityMapsURL   string
	ElectricityMapsToken string
	CarbonIntensityURL   string
	CacheEnabled         bool
	CacheTTL             time.Duration

	// Executor
	ExecutorKind    string
	ExecutorSlots   int
	ExecutorScale   float64 // wall-clock seconds per declared second for the local executor
	DispatchTimeout time.Duration

	// Messaging
	EventBus  string
	NATSURL   string
	NATSToken string

	// Archive of terminal jobs
	ArchiveBackend    string
	ArchiveDir        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"CARBONWISE_ENV", "ENVIRONMENT"}, "development"),
		HTTPBind:      getEnv("CARBONWISE_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("CARBONWISE_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("CARBONWISE_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:         getEnv("CARBONWISE_DB_DSN", "carbonwise.db"),
		JWTSigningKey: getEnv("CARBONWISE_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("CARBONWISE_METRICS_BIND", "127.0.0.1:9000"),

		Horizon:            getEnvDuration("CARBONWISE_HORIZON", 24*time.Hour),
		Epsilon:            getEnvDuration("CARBONWISE_EPSILON", 0),
		TickInterval:       getEnvDuration("CARBONWISE_TICK_INTERVAL", 30*time.Second),
		ReoptimizeInterval: getEnvDuration("CARBONWISE_REOPTIMIZE_INTERVAL", 5*time.Minute),
		FetchTimeout:       getEnvDuration("CARBONWISE_FETCH_TIMEOUT", 10*time.Second),
		PUE:                getEnvFloatAny([]string{"CARBONWISE_PUE"}, 1.0),
		DefaultRegion:      getEnv("CARBONWISE_DEFAULT_REGION", "GB"),

		ProvidersFile:        getEnv("CARBONWISE_PROVIDERS_FILE", ""),
		ProviderKind:         getEnv("CARBONWISE_PROVIDER", "mock"),
		ElectricityMapsURL:   getEnv("CARBONWISE_ELECTRICITYMAPS_URL", ""),
		ElectricityMapsToken: getEnvAny([]string{"CARBONWISE_ELECTRICITYMAPS_TOKEN", "ELECTRICITYMAPS_TOKEN"}, ""),
		CarbonIntensityURL:   getEnv("CARBONWISE_CARBONINTENSITY_URL", ""),
		CacheEnabled:         getEnvBool("CARBONWISE_CACHE_ENABLED", false),
		CacheTTL:             getEnvDuration("CARBONWISE_CACHE_TTL", 5*time.Minute),

		ExecutorKind:    getEnv("CARBONWISE_EXECUTOR", ExecutorLocal),
		ExecutorSlots:   getEnvInt("CARBONWISE_EXECUTOR_SLOTS", 4),
		ExecutorScale:   getEnvFloatAny([]string{"CARBONWISE_EXECUTOR_SCALE"}, 1.0),
		DispatchTimeout: getEnvDuration("CARBONWISE_DISPATCH_TIMEOUT", 5*time.Second),

		EventBus:  getEnv("CARBONWISE_EVENT_BUS", EventBusLocal),
		NATSURL:   getEnvAny([]string{"CARBONWISE_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSToken: getEnv("CARBONWISE_NATS_TOKEN", ""),

		ArchiveBackend:    getEnv("CARBONWISE_ARCHIVE", ArchiveFilesystem),
		ArchiveDir:        getEnv("CARBONWISE_ARCHIVE_DIR", "./data"),
		S3AccessKeyID:     getEnvAny([]string{"CARBONWISE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"CARBONWISE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"CARBONWISE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"CARBONWISE_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"CARBONWISE_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"CARBONWISE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    getEnvBool("CARBONWISE_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("CARBONWISE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CARBONWISE_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBool("CARBONWISE_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             getEnvAny([]string{"CARBONWISE_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"CARBONWISE_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvInt("CARBONWISE_REDIS_DB", 0),
		InstanceID:            getEnv("CARBONWISE_INSTANCE_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("CARBONWISE_DB_DSN must be provided")
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("CARBONWISE_HORIZON must be positive, got %s", c.Horizon)
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("CARBONWISE_EPSILON must not be negative, got %s", c.Epsilon)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("CARBONWISE_TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("CARBONWISE_FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.PUE < 1 {
		return fmt.Errorf("CARBONWISE_PUE must be at least 1.0, got %v", c.PUE)
	}
	if c.DefaultRegion == "" {
		return fmt.Errorf("CARBONWISE_DEFAULT_REGION must not be empty")
	}

	switch c.ExecutorKind {
	case ExecutorLocal:
		if c.ExecutorSlots <= 0 {
			return fmt.Errorf("CARBONWISE_EXECUTOR_SLOTS must be positive, got %d", c.ExecutorSlots)
		}
		if c.ExecutorScale <= 0 {
			return fmt.Errorf("CARBONWISE_EXECUTOR_SCALE must be positive, got %v", c.ExecutorScale)
		}
	case ExecutorNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("CARBONWISE_NATS_URL is required for the nats executor")
		}
	default:
		return fmt.Errorf("unsupported executor %q", c.ExecutorKind)
	}

	switch c.EventBus {
	case EventBusLocal, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	switch c.ArchiveBackend {
	case ArchiveNone:
	case ArchiveFilesystem:
		if c.ArchiveDir == "" {
			return fmt.Errorf("CARBONWISE_ARCHIVE_DIR is required for the fs archive")
		}
	case ArchiveS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("CARBONWISE_S3_BUCKET is required for the s3 archive")
		}
	default:
		return fmt.Errorf("unsupported archive backend %q", c.ArchiveBackend)
	}

	if c.IsProduction() && c.JWTSigningKey == "" {
		return fmt.Errorf("CARBONWISE_JWT_SIGNING_KEY must be provided in production")
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":           "use CARBONWISE_ENV",
		"ELECTRICITYMAPS_TOKEN": "use CARBONWISE_ELECTRICITYMAPS_TOKEN",
		"NATS_URL":              "use CARBONWISE_NATS_URL",
		"REDIS_ADDR":            "use CARBONWISE_REDIS_ADDR",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnv(key, def string) string {
	return getEnvAny([]string{key}, def)
}

func getEnvInt(key string, def int) int {
	return getEnvIntAny([]string{key}, def)
}

func getEnvBool(key string, def bool) bool {
	return getEnvBoolAny([]string{key}, def)
}

// getEnvDuration accepts Go duration strings ("90s", "24h") or bare seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
