package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path, merges it on top of the built-in
// defaults, applies MARKETSYNC_* environment overrides, and returns the
// result. The caller validates with Config.Validate. An empty path skips
// the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional; missing files are ignored.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites config fields from MARKETSYNC_* variables
// when set, so operators can inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Ledger.RPCURL, "MARKETSYNC_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.WSURL, "MARKETSYNC_LEDGER_WS_URL")
	setStr(&cfg.Ledger.Commitment, "MARKETSYNC_LEDGER_COMMITMENT")
	setDuration(&cfg.Ledger.RequestTimeout, "MARKETSYNC_LEDGER_REQUEST_TIMEOUT")
	setInt(&cfg.Ledger.MaxRetries, "MARKETSYNC_LEDGER_MAX_RETRIES")
	setDuration(&cfg.Ledger.RetryBaseDelay, "MARKETSYNC_LEDGER_RETRY_BASE_DELAY")
	setDuration(&cfg.Ledger.RetryMaxDelay, "MARKETSYNC_LEDGER_RETRY_MAX_DELAY")

	setStr(&cfg.Postgres.DSN, "MARKETSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARKETSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETSYNC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.MaxConns, "MARKETSYNC_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "MARKETSYNC_POSTGRES_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETSYNC_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MARKETSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETSYNC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Stream, "MARKETSYNC_REDIS_STREAM")

	setStr(&cfg.S3.Endpoint, "MARKETSYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETSYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETSYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETSYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETSYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETSYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETSYNC_S3_FORCE_PATH_STYLE")

	setDuration(&cfg.Sync.Interval, "MARKETSYNC_SYNC_INTERVAL")
	setFloat64(&cfg.Sync.JitterFraction, "MARKETSYNC_SYNC_JITTER_FRACTION")
	setInt(&cfg.Sync.MaxConcurrent, "MARKETSYNC_SYNC_MAX_CONCURRENT")
	setDuration(&cfg.Sync.StaleThreshold, "MARKETSYNC_SYNC_STALE_THRESHOLD")
	setDuration(&cfg.Sync.CacheTTL, "MARKETSYNC_SYNC_CACHE_TTL")

	setBool(&cfg.Archive.Enabled, "MARKETSYNC_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MARKETSYNC_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "MARKETSYNC_ARCHIVE_RETENTION_DAYS")

	setStr(&cfg.Notify.TelegramToken, "MARKETSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETSYNC_NOTIFY_DISCORD_WEBHOOK_URL")

	setBool(&cfg.Metrics.Enabled, "MARKETSYNC_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "MARKETSYNC_METRICS_ADDR")

	setStr(&cfg.Mode, "MARKETSYNC_MODE")
	setStr(&cfg.LogLevel, "MARKETSYNC_LOG_LEVEL")
}

// Typed env helpers. Each mutates the target only when the variable is
// present, non-empty, and parses cleanly.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
