// Package config loads and validates coordinator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

// Backend names accepted by frontier.backend and store.backend.
const (
	BackendMemory   = "memory"
	BackendKafka    = "kafka"
	BackendPubSub   = "pubsub"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Store     StoreConfig     `mapstructure:"store"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WorkerConfig governs the expansion worker pool.
type WorkerConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// FrontierConfig selects and configures the task queue.
type FrontierConfig struct {
	Backend    string       `mapstructure:"backend"`
	QueueDepth int          `mapstructure:"queue_depth"`
	Kafka      KafkaConfig  `mapstructure:"kafka"`
	PubSub     PubSubConfig `mapstructure:"pubsub"`
}

// KafkaConfig points at the frontier topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// PubSubConfig points at the frontier topic and subscription.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// StoreConfig selects and configures the shared ledger and claim store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig controls the Redis client and key retention.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// FetcherConfig configures the page fetcher.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// LimitsConfig caps the limits a submission may request.
type LimitsConfig struct {
	MaxDistance int `mapstructure:"max_distance"`
	MaxSeconds  int `mapstructure:"max_seconds"`
	MaxURLs     int `mapstructure:"max_urls"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.backoff_initial_ms", 100)
	v.SetDefault("worker.backoff_max_ms", 2000)
	v.SetDefault("frontier.backend", BackendMemory)
	v.SetDefault("frontier.queue_depth", 0)
	v.SetDefault("frontier.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("frontier.kafka.topic", "crawl-frontier")
	v.SetDefault("frontier.kafka.group_id", "crawl-workers")
	v.SetDefault("frontier.pubsub.topic", "crawl-frontier")
	v.SetDefault("frontier.pubsub.subscription", "crawl-workers")
	v.SetDefault("frontier.pubsub.max_outstanding", 16)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.key_prefix", "crawl:")
	v.SetDefault("store.redis.ttl_hours", 0)
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("fetcher.user_agent", "crawl-coordinator/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.max_body_bytes", 5*1024*1024)
	v.SetDefault("limits.max_distance", 10)
	v.SetDefault("limits.max_seconds", 3600)
	v.SetDefault("limits.max_urls", 10000)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Frontier.Backend {
	case BackendMemory:
	case BackendKafka:
		if len(c.Frontier.Kafka.Brokers) == 0 || c.Frontier.Kafka.Topic == "" || c.Frontier.Kafka.GroupID == "" {
			return fmt.Errorf("frontier.kafka requires brokers, topic and group_id")
		}
	case BackendPubSub:
		if c.Frontier.PubSub.ProjectID == "" || c.Frontier.PubSub.Topic == "" || c.Frontier.PubSub.Subscription == "" {
			return fmt.Errorf("frontier.pubsub requires project_id, topic and subscription")
		}
	default:
		return fmt.Errorf("unknown frontier.backend %q", c.Frontier.Backend)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr must be set")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Limits.MaxDistance < 0 || c.Limits.MaxSeconds <= 0 || c.Limits.MaxURLs <= 0 {
		return fmt.Errorf("limits must be positive (max_distance may be 0)")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RetryPolicy converts the worker backoff settings.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxRetries:      c.Worker.MaxRetries,
		InitialInterval: time.Duration(c.Worker.BackoffInitialMs) * time.Millisecond,
		MaxInterval:     time.Duration(c.Worker.BackoffMaxMs) * time.Millisecond,
	}
}

// FetchTimeout is the per-task fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// MaxLimits returns the upper bounds accepted at submission.
func (c Config) MaxLimits() crawler.Limits {
	return crawler.Limits{
		MaxDistance: c.Limits.MaxDistance,
		MaxSeconds:  c.Limits.MaxSeconds,
		MaxURLs:     c.Limits.MaxURLs,
	}
}
