package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for fieldtrace-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords, signing
// keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// SessionSigningSecret signs participant/researcher session tokens.
	// Server will fail to start if this is not set.
	SessionSigningSecret string `yaml:"-" env:"SESSION_SIGNING_SECRET"`

	// SessionTTL is how long an issued session token stays valid.
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"720h"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional session-token cache)
	Redis RedisConfig `yaml:"redis"`

	// Limits applied by the ingestion gateway and query engine
	Limits LimitsConfig `yaml:"limits"`

	// Background loop intervals and archival destination
	Stats    StatsConfig    `yaml:"stats"`
	Archival ArchivalConfig `yaml:"archival"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"fieldtrace"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"fieldtrace"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PG_MAX_CONNECTIONS" env-default:"25"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// InteractiveTimeout bounds single writes and bounded reads.
	InteractiveTimeout time.Duration `yaml:"interactive_timeout" env:"DB_INTERACTIVE_TIMEOUT" env-default:"5s"`

	// BulkTimeout bounds reconciliation scans and full-shard exports.
	BulkTimeout time.Duration `yaml:"bulk_timeout" env:"DB_BULK_TIMEOUT" env-default:"5m"`
}

// URL builds the PostgreSQL connection URL from the configuration.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds optional Redis configuration. An empty host disables the
// session-token cache; token verification then always touches Postgres.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// LimitsConfig holds request-level bounds enforced by the gateway.
type LimitsConfig struct {
	// MaxKRecords caps readKNext: requests asking for more get the cap, not an error
	// on the storage side; the gateway rejects oversized k outright.
	MaxKRecords int `yaml:"max_k_records" env:"MAX_K_RECORDS" env-default:"500"`

	// TruncateThresholdBytes is the payload size above which filtered reads with
	// truncation enabled substitute a placeholder.
	TruncateThresholdBytes int `yaml:"truncate_threshold_bytes" env:"TRUNCATE_THRESHOLD_BYTES" env-default:"500"`

	// BatchPayloadLimitBytes bounds the total payload of one batch-write sub-batch.
	BatchPayloadLimitBytes int `yaml:"batch_payload_limit_bytes" env:"BATCH_PAYLOAD_LIMIT_BYTES" env-default:"26214400"`

	// DefaultRangePageSize bounds range reads when both interval bounds are omitted.
	DefaultRangePageSize int `yaml:"default_range_page_size" env:"DEFAULT_RANGE_PAGE_SIZE" env-default:"10000"`

	// MinUsernameLen and MinPasswordLen gate registration and login.
	MinUsernameLen int `yaml:"min_username_len" env:"MIN_USERNAME_LEN" env-default:"4"`
	MinPasswordLen int `yaml:"min_password_len" env:"MIN_PASSWORD_LEN" env-default:"4"`
}

// StatsConfig configures the statistics reconciler.
type StatsConfig struct {
	Interval time.Duration `yaml:"interval" env:"STATS_INTERVAL" env-default:"10s"`

	// MaxConcurrentCampaigns bounds parallel reconciliation cycles so background
	// scans cannot saturate the shared connection pool.
	MaxConcurrentCampaigns int64 `yaml:"max_concurrent_campaigns" env:"STATS_MAX_CONCURRENT_CAMPAIGNS" env-default:"4"`
}

// ArchivalConfig configures the archival exporter.
type ArchivalConfig struct {
	Interval time.Duration `yaml:"interval" env:"ARCHIVAL_INTERVAL" env-default:"2m"`

	// Dir is the durable destination for exported shard dumps and manifests.
	Dir string `yaml:"dir" env:"ARCHIVAL_DIR" env-default:"/var/lib/fieldtrace/archive"`

	// MaxConcurrentCampaigns bounds parallel campaign exports.
	MaxConcurrentCampaigns int64 `yaml:"max_concurrent_campaigns" env:"ARCHIVAL_MAX_CONCURRENT_CAMPAIGNS" env-default:"2"`
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that cleanenv defaults cannot express.
func (c *Config) Validate() error {
	if c.SessionSigningSecret == "" {
		return fmt.Errorf("SESSION_SIGNING_SECRET must be set")
	}
	if c.Limits.MaxKRecords <= 0 {
		return fmt.Errorf("max_k_records must be positive, got %d", c.Limits.MaxKRecords)
	}
	if c.Limits.BatchPayloadLimitBytes <= 0 {
		return fmt.Errorf("batch_payload_limit_bytes must be positive, got %d", c.Limits.BatchPayloadLimitBytes)
	}
	if c.Stats.MaxConcurrentCampaigns <= 0 {
		return fmt.Errorf("stats max_concurrent_campaigns must be positive, got %d", c.Stats.MaxConcurrentCampaigns)
	}
	if c.Archival.MaxConcurrentCampaigns <= 0 {
		return fmt.Errorf("archival max_concurrent_campaigns must be positive, got %d", c.Archival.MaxConcurrentCampaigns)
	}
	return nil
}
