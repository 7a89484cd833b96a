// Package config provides configuration management for the paper analysis service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the paper analysis service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Admin contains the administrative control surface settings.
	Admin AdminConfig `mapstructure:"admin"`
	// Queue contains the Redis work queue settings.
	Queue QueueConfig `mapstructure:"queue"`
	// Outcomes contains the Kafka outcome consumer settings.
	Outcomes OutcomesConfig `mapstructure:"outcomes"`
	// Batch contains batch orchestration settings.
	Batch BatchConfig `mapstructure:"batch"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// AdminConfig holds the administrative control surface settings.
type AdminConfig struct {
	// Token is the bearer credential required by every admin operation.
	// Loaded exclusively from the ANALYSIS_ADMIN_TOKEN environment
	// variable; an empty value makes every admin request fail closed.
	Token string `mapstructure:"-"`
}

// QueueConfig holds the Redis work queue settings.
type QueueConfig struct {
	// URL is the Redis connection URL, e.g. redis://localhost:6379/0.
	URL string `mapstructure:"url"`
	// Password is the Redis password (loaded from ANALYSIS_QUEUE_PASSWORD).
	Password string `mapstructure:"-"`
	// Stream is the Redis stream name jobs are enqueued to.
	Stream string `mapstructure:"stream"`
	// DedupeTTL is how long enqueue dedupe markers are retained.
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
	// EnqueueRate is the sustained enqueue rate in items per second.
	EnqueueRate float64 `mapstructure:"enqueue_rate"`
	// EnqueueBurst is the enqueue rate limiter burst size.
	EnqueueBurst int `mapstructure:"enqueue_burst"`
}

// OutcomesConfig holds the Kafka outcome consumer settings.
type OutcomesConfig struct {
	// Enabled controls whether the outcome listener is started.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic job outcome events arrive on.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group ID.
	GroupID string `mapstructure:"group_id"`
}

// BatchConfig holds batch orchestration settings.
type BatchConfig struct {
	// Model is the analysis model identifier recorded on new batches.
	Model string `mapstructure:"model"`
	// DefaultScope is the selection-policy label for batches started
	// without an explicit scope.
	DefaultScope string `mapstructure:"default_scope"`
	// EstimatedCostCents is the per-paper cost estimate used for the
	// advisory budget headroom check before a batch starts.
	EstimatedCostCents int64 `mapstructure:"estimated_cost_cents"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("ANALYSIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/analysis-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Admin.Token = os.Getenv("ANALYSIS_ADMIN_TOKEN")
	cfg.Queue.Password = os.Getenv("ANALYSIS_QUEUE_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "analysis")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "analysis_service")
	// Default to "require" for production security. Use ANALYSIS_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Queue defaults
	v.SetDefault("queue.url", "redis://localhost:6379/0")
	v.SetDefault("queue.stream", "analysis:jobs")
	v.SetDefault("queue.dedupe_ttl", "24h")
	v.SetDefault("queue.enqueue_rate", 200.0)
	v.SetDefault("queue.enqueue_burst", 50)

	// Outcome consumer defaults
	v.SetDefault("outcomes.enabled", true)
	v.SetDefault("outcomes.brokers", []string{"localhost:9092"})
	v.SetDefault("outcomes.topic", "analysis.job.outcomes")
	v.SetDefault("outcomes.group_id", "analysis-service")

	// Batch defaults
	v.SetDefault("batch.model", "gpt-4o-mini")
	v.SetDefault("batch.default_scope", "newest")
	v.SetDefault("batch.estimated_cost_cents", 3)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Queue.URL == "" {
		return fmt.Errorf("queue url is required")
	}
	if c.Queue.Stream == "" {
		return fmt.Errorf("queue stream is required")
	}
	if c.Queue.EnqueueRate <= 0 {
		return fmt.Errorf("queue enqueue_rate must be positive")
	}

	if c.Outcomes.Enabled {
		if len(c.Outcomes.Brokers) == 0 {
			return fmt.Errorf("outcomes brokers are required when the outcome listener is enabled")
		}
		if c.Outcomes.Topic == "" {
			return fmt.Errorf("outcomes topic is required when the outcome listener is enabled")
		}
	}

	if c.Batch.Model == "" {
		return fmt.Errorf("batch model is required")
	}
	if c.Batch.EstimatedCostCents < 0 {
		return fmt.Errorf("batch estimated_cost_cents must be non-negative")
	}

	return nil
}
