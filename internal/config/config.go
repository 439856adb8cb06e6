package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Storage       StorageConfig       `yaml:"storage"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Workers       WorkersConfig       `yaml:"workers"`
	Logging       LoggingConfig       `yaml:"logging"`
	Abuse         AbuseConfig         `yaml:"abuse"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// StorageConfig selects the repository backend: "postgres" or "memory"
type StorageConfig struct {
	Type string `yaml:"type"`
}

// ArchiveConfig holds S3 settings for archiving purged abuse events
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArchiveConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// NotificationsConfig holds suspension/unlock notification channels
type NotificationsConfig struct {
	SES     SESConfig     `yaml:"ses"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SESConfig holds AWS SES v2 settings for notification email
type SESConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromAddress    string `yaml:"from_address"`
	OpsAddress     string `yaml:"ops_address"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig holds the ops webhook settings
type WebhookConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkersConfig holds background sweep settings
type WorkersConfig struct {
	DecayIntervalMinutes     int `yaml:"decay_interval_minutes"`
	RetentionIntervalMinutes int `yaml:"retention_interval_minutes"`
	SweepConcurrency         int `yaml:"sweep_concurrency"`
	LockTTLSeconds           int `yaml:"lock_ttl_seconds"`
}

// DecayInterval returns how often the decay sweep runs
func (c WorkersConfig) DecayInterval() time.Duration {
	return time.Duration(c.DecayIntervalMinutes) * time.Minute
}

// RetentionInterval returns how often the retention cleanup runs
func (c WorkersConfig) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalMinutes) * time.Minute
}

// LockTTL returns the distributed sweep lock TTL
func (c WorkersConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{Abuse: DefaultAbuseConfig(), RateLimit: DefaultRateLimitConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "postgres"
	}
	if cfg.Archive.S3Prefix == "" {
		cfg.Archive.S3Prefix = "abuse-events"
	}
	if cfg.Archive.AWSRegion == "" {
		cfg.Archive.AWSRegion = "us-west-2"
	}
	if cfg.Notifications.SES.Region == "" {
		cfg.Notifications.SES.Region = "us-west-2"
	}
	if cfg.Notifications.SES.TimeoutSeconds == 0 {
		cfg.Notifications.SES.TimeoutSeconds = 30
	}
	if cfg.Notifications.Webhook.MaxRetries == 0 {
		cfg.Notifications.Webhook.MaxRetries = 3
	}
	if cfg.Notifications.Webhook.TimeoutSeconds == 0 {
		cfg.Notifications.Webhook.TimeoutSeconds = 10
	}
	if cfg.Workers.DecayIntervalMinutes == 0 {
		cfg.Workers.DecayIntervalMinutes = 60
	}
	if cfg.Workers.RetentionIntervalMinutes == 0 {
		cfg.Workers.RetentionIntervalMinutes = 24 * 60
	}
	if cfg.Workers.SweepConcurrency == 0 {
		cfg.Workers.SweepConcurrency = 8
	}
	if cfg.Workers.LockTTLSeconds == 0 {
		cfg.Workers.LockTTLSeconds = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Archive.AWSRegion = v
		cfg.Notifications.SES.Region = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Notifications.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Notifications.SES.SecretKey = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RATELIMIT_ON_STORE_ERROR"); v != "" {
		cfg.RateLimit.OnStoreError = v
	}

	return cfg, nil
}
