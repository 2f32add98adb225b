// Package config provides configuration loading and management for Logwarden.
// It supports loading configuration from YAML files with sensible defaults
// and fails fast on invalid values before the pipeline starts consuming.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all backends.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// NormalizerMode selects the template normalizer implementation.
type NormalizerMode string

const (
	// NormalizerModeLocal uses the in-process structural fingerprinter.
	NormalizerModeLocal NormalizerMode = "local"
	// NormalizerModeRemote calls an external template extraction service.
	NormalizerModeRemote NormalizerMode = "remote"
)

// RuleStateMode selects the window/cooldown state backend.
type RuleStateMode string

const (
	// RuleStateMemory keeps frequency state process-local.
	RuleStateMemory RuleStateMode = "memory"
	// RuleStateRedis externalizes frequency state for multi-instance accuracy.
	RuleStateRedis RuleStateMode = "redis"
)

// Config represents the complete application configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Batch      BatchConfig      `yaml:"batch"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Rules      RulesConfig      `yaml:"rules"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory backends should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
	ConsumerGroup   string   `yaml:"consumer_group"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// NormalizerConfig selects and configures the template normalizer.
type NormalizerConfig struct {
	Mode     NormalizerMode `yaml:"mode"`
	Endpoint string         `yaml:"endpoint"`
	Timeout  time.Duration  `yaml:"timeout"`
}

// BatchConfig holds the batch writer thresholds.
type BatchConfig struct {
	// MaxBatchSize is the upper bound on items per flush.
	MaxBatchSize int `yaml:"max_batch_size"`
	// MaxBatchInterval is the upper bound on wait before a non-empty batch
	// is forced to flush regardless of size.
	MaxBatchInterval time.Duration `yaml:"max_batch_interval"`
	// FlushRetries bounds flush attempts before the batch is carried over
	// to the next tick.
	FlushRetries uint `yaml:"flush_retries"`
}

// ConsumerConfig tunes the partition workers.
type ConsumerConfig struct {
	// Workers is the number of concurrent partition workers, each with its
	// own broker reader and its own batch.
	Workers int `yaml:"workers"`
	// PollTimeout bounds a single broker fetch so idle workers can still
	// flush on the time trigger.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// MaxRetries bounds normalization attempts per message before the
	// message is dead-lettered.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the base delay between normalization retries.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// RulesConfig tunes the rule store.
type RulesConfig struct {
	State RuleStateMode `yaml:"state"`
	// ReloadInterval is how often the snapshot is refreshed from the
	// repository in the background. Zero disables the refresher.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// NotifierConfig holds webhook notification settings.
type NotifierConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Enabled    bool          `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "logs-raw"
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = cfg.Kafka.Topic + ".dlq"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "logwarden-ingest"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	if cfg.Normalizer.Mode == "" {
		cfg.Normalizer.Mode = NormalizerModeLocal
	}
	if cfg.Normalizer.Timeout == 0 {
		cfg.Normalizer.Timeout = 5 * time.Second
	}

	if cfg.Batch.MaxBatchSize == 0 {
		cfg.Batch.MaxBatchSize = 100
	}
	if cfg.Batch.MaxBatchInterval == 0 {
		cfg.Batch.MaxBatchInterval = time.Second
	}
	if cfg.Batch.FlushRetries == 0 {
		cfg.Batch.FlushRetries = 3
	}

	if cfg.Consumer.Workers == 0 {
		cfg.Consumer.Workers = 1
	}
	if cfg.Consumer.PollTimeout == 0 {
		cfg.Consumer.PollTimeout = time.Second
	}
	if cfg.Consumer.MaxRetries == 0 {
		cfg.Consumer.MaxRetries = 3
	}
	if cfg.Consumer.RetryBackoff == 0 {
		cfg.Consumer.RetryBackoff = 100 * time.Millisecond
	}

	if cfg.Rules.State == "" {
		cfg.Rules.State = RuleStateMemory
	}
	if cfg.Rules.ReloadInterval == 0 {
		cfg.Rules.ReloadInterval = 5 * time.Minute
	}

	if cfg.Notifier.Timeout == 0 {
		cfg.Notifier.Timeout = 5 * time.Second
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// Validate rejects configurations the pipeline must not start with.
func (c *Config) Validate() error {
	if !c.Storage.Mode.IsValid() {
		return fmt.Errorf("invalid storage mode %q", c.Storage.Mode)
	}
	if c.Batch.MaxBatchSize < 1 {
		return fmt.Errorf("batch.max_batch_size must be at least 1, got %d", c.Batch.MaxBatchSize)
	}
	if c.Batch.MaxBatchInterval <= 0 {
		return fmt.Errorf("batch.max_batch_interval must be positive, got %s", c.Batch.MaxBatchInterval)
	}
	if c.Consumer.Workers < 1 {
		return fmt.Errorf("consumer.workers must be at least 1, got %d", c.Consumer.Workers)
	}
	if c.Consumer.PollTimeout <= 0 {
		return fmt.Errorf("consumer.poll_timeout must be positive, got %s", c.Consumer.PollTimeout)
	}
	if c.Normalizer.Mode == NormalizerModeRemote && c.Normalizer.Endpoint == "" {
		return fmt.Errorf("normalizer.endpoint is required in remote mode")
	}
	if c.Rules.State != RuleStateMemory && c.Rules.State != RuleStateRedis {
		return fmt.Errorf("invalid rules state backend %q", c.Rules.State)
	}
	if c.Notifier.Enabled && c.Notifier.WebhookURL == "" {
		return fmt.Errorf("notifier.webhook_url is required when notifications are enabled")
	}
	return nil
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
