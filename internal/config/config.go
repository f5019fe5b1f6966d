// Package config defines the sync service configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by MARKETSYNC_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Sync     SyncConfig     `toml:"sync"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds ledger RPC endpoints and retry parameters.
type LedgerConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	WSURL          string   `toml:"ws_url"` // empty disables change hints
	Commitment     string   `toml:"commitment"`
	RequestTimeout duration `toml:"request_timeout"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	RetryMaxDelay  duration `toml:"retry_max_delay"`
}

// PostgresConfig holds the projection store connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the hot-cache connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// Stream overrides the transition stream name; empty uses the default.
	Stream string `toml:"stream"`
}

// S3Config holds the cold-storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig tunes the sync scheduler.
type SyncConfig struct {
	Interval       duration `toml:"interval"`
	JitterFraction float64  `toml:"jitter_fraction"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	StaleThreshold duration `toml:"stale_threshold"`
	CacheTTL       duration `toml:"cache_ttl"`
}

// ArchiveConfig tunes the cold-storage archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds the operator chat channels. Empty credentials
// disable the respective sink; the event log and stream sinks are always
// on.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// MetricsConfig holds the health/metrics listener parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values from
// config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:         "http://localhost:8899",
			Commitment:     "confirmed",
			RequestTimeout: duration{10 * time.Second},
			MaxRetries:     4,
			RetryBaseDelay: duration{250 * time.Millisecond},
			RetryMaxDelay:  duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketsync",
			User:          "postgres",
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketsync-archive",
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			Interval:       duration{15 * time.Second},
			JitterFraction: 0.2,
			MaxConcurrent:  8,
			StaleThreshold: duration{2 * time.Minute},
			CacheTTL:       duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{6 * time.Hour},
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":    true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"confirmed": true,
	"finalized": true,
}

// Validate checks the config and returns a combined error describing
// every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if !validCommitments[c.Ledger.Commitment] {
		errs = append(errs, fmt.Sprintf("ledger: commitment must be confirmed or finalized, got %q", c.Ledger.Commitment))
	}
	if c.Ledger.MaxRetries < 0 {
		errs = append(errs, "ledger: max_retries must be >= 0")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.MaxConns < 1 {
		errs = append(errs, "postgres: max_conns must be >= 1")
	}
	if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, "postgres: min_conns must be between 0 and max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be positive")
	}
	if c.Sync.JitterFraction < 0 || c.Sync.JitterFraction >= 1 {
		errs = append(errs, fmt.Sprintf("sync: jitter_fraction must be in [0, 1), got %g", c.Sync.JitterFraction))
	}
	if c.Sync.MaxConcurrent < 1 {
		errs = append(errs, "sync: max_concurrent must be >= 1")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
