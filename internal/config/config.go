// Package config provides centralized configuration management for the standardizer.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Pipeline  PipelineConfig
	Jobs      JobsConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Retention RetentionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxBodySize caps JSON and multipart request bodies in bytes (default: 50MB)
	MaxBodySize int64 `env:"SERVER_MAX_BODY_SIZE" default:"52428800"`
}

// DatabaseConfig holds database connection settings.
// Persistence is disabled when URL is empty.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig holds job queue connection settings.
// Background jobs are disabled when URL is empty.
type RedisConfig struct {
	// URL is a redis:// connection URL
	URL string `env:"REDIS_URL"`

	// DialTimeout bounds connection setup (default: 5s)
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// KafkaConfig holds audit event stream settings.
// The Kafka sink is disabled when Brokers is empty.
type KafkaConfig struct {
	// Brokers is a comma-separated list of host:port addresses
	Brokers []string `env:"KAFKA_BROKERS"`

	// Topic receives audit events (default: amr.audit)
	Topic string `env:"KAFKA_AUDIT_TOPIC" default:"amr.audit"`

	// WriteTimeout bounds a single publish (default: 5s)
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" default:"5s"`

	// BreakerFailures opens the circuit after this many consecutive failures (default: 5)
	BreakerFailures int `env:"KAFKA_BREAKER_FAILURES" default:"5"`

	// BreakerTimeout is how long the circuit stays open (default: 30s)
	BreakerTimeout time.Duration `env:"KAFKA_BREAKER_TIMEOUT" default:"30s"`
}

// Enabled reports whether Kafka is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// PipelineConfig holds interpretation and export defaults.
type PipelineConfig struct {
	// Standard is the default breakpoint standard (default: CLSI)
	Standard string `env:"PIPELINE_STANDARD" default:"CLSI"`

	// Version is the default breakpoint version (default: 2024)
	Version string `env:"PIPELINE_VERSION" default:"2024"`

	// DedupWindowDays is the default episode window (default: 30)
	DedupWindowDays int `env:"PIPELINE_DEDUP_WINDOW_DAYS" default:"30"`

	// BreakpointsFile optionally extends the built-in breakpoint table (YAML)
	BreakpointsFile string `env:"PIPELINE_BREAKPOINTS_FILE"`

	// VocabularyFile optionally extends the built-in synonym tables (YAML)
	VocabularyFile string `env:"PIPELINE_VOCABULARY_FILE"`

	// ResolverCacheSize is the number of cached name resolutions (default: 4096)
	ResolverCacheSize int `env:"PIPELINE_RESOLVER_CACHE_SIZE" default:"4096"`

	// MaxFileSize is the maximum accepted upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"PIPELINE_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel pipeline runs (default: 5)
	MaxConcurrent int `env:"PIPELINE_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"PIPELINE_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single run (default: 10m)
	Timeout time.Duration `env:"PIPELINE_TIMEOUT" default:"10m"`
}

// JobsConfig holds background worker settings.
type JobsConfig struct {
	// Queue is the Redis list used for pending jobs (default: amr:jobs)
	Queue string `env:"JOBS_QUEUE" default:"amr:jobs"`

	// Workers is the number of concurrent workers (default: 2)
	Workers int `env:"JOBS_WORKERS" default:"2"`

	// ResultTTL is how long job state and results are kept (default: 24h)
	ResultTTL time.Duration `env:"JOBS_RESULT_TTL" default:"24h"`

	// PollTimeout is the blocking pop timeout per worker loop (default: 5s)
	PollTimeout time.Duration `env:"JOBS_POLL_TIMEOUT" default:"5s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload and pipeline endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RetentionConfig holds run retention settings.
type RetentionConfig struct {
	// Enabled turns on the purge schedule when a database is configured (default: true)
	Enabled bool `env:"RETENTION_ENABLED" default:"true"`

	// Schedule is a standard 5-field cron expression (default: daily at 03:00)
	Schedule string `env:"RETENTION_SCHEDULE" default:"0 3 * * *"`

	// RunDays is how long pipeline runs and their records are kept (default: 90)
	RunDays int `env:"RETENTION_RUN_DAYS" default:"90"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
