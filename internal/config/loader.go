package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERLEDGER_* environment variable overrides,
// and returns the final Config. A missing file is not an error, so the
// service can be configured from the environment alone. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.Driver, "PAPERLEDGER_DATABASE_DRIVER")
	setStr(&cfg.Database.Postgres.DSN, "PAPERLEDGER_DATABASE_POSTGRES_DSN")
	setStr(&cfg.Database.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Database.Postgres.Host, "PAPERLEDGER_DATABASE_POSTGRES_HOST")
	setInt(&cfg.Database.Postgres.Port, "PAPERLEDGER_DATABASE_POSTGRES_PORT")
	setStr(&cfg.Database.Postgres.Database, "PAPERLEDGER_DATABASE_POSTGRES_DATABASE")
	setStr(&cfg.Database.Postgres.User, "PAPERLEDGER_DATABASE_POSTGRES_USER")
	setStr(&cfg.Database.Postgres.Password, "PAPERLEDGER_DATABASE_POSTGRES_PASSWORD")
	setStr(&cfg.Database.Postgres.SSLMode, "PAPERLEDGER_DATABASE_POSTGRES_SSL_MODE")
	setInt(&cfg.Database.Postgres.PoolMaxConns, "PAPERLEDGER_DATABASE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Database.Postgres.PoolMinConns, "PAPERLEDGER_DATABASE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Database.Postgres.RunMigrations, "PAPERLEDGER_DATABASE_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.Database.SQLite.Path, "PAPERLEDGER_DATABASE_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERLEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PAPERLEDGER_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "PAPERLEDGER_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAPERLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERLEDGER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAPERLEDGER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "PAPERLEDGER_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "PAPERLEDGER_ARCHIVE_RETENTION_DAYS")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "PAPERLEDGER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "PAPERLEDGER_ORACLE_API_KEY")
	setStr(&cfg.Oracle.APIKey, "FMP_API_KEY")
	setDuration(&cfg.Oracle.Timeout, "PAPERLEDGER_ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.RequestsPerMinute, "PAPERLEDGER_ORACLE_REQUESTS_PER_MINUTE")
	setDuration(&cfg.Oracle.CacheTTL, "PAPERLEDGER_ORACLE_CACHE_TTL")

	// ── Ledger ──
	setDuration(&cfg.Ledger.LockTTL, "PAPERLEDGER_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.LockWait, "PAPERLEDGER_LEDGER_LOCK_WAIT")
	setInt(&cfg.Ledger.MaxRetries, "PAPERLEDGER_LEDGER_MAX_RETRIES")
	setBool(&cfg.Ledger.RejectUnmatchedSell, "PAPERLEDGER_LEDGER_REJECT_UNMATCHED_SELL")
	setInt(&cfg.Ledger.AutoCloseConcurrency, "PAPERLEDGER_LEDGER_AUTO_CLOSE_CONCURRENCY")

	// ── Performance ──
	setDuration(&cfg.Performance.CacheTTL, "PAPERLEDGER_PERFORMANCE_CACHE_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "PAPERLEDGER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PAPERLEDGER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERLEDGER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "PAPERLEDGER_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "PAPERLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERLEDGER_MODE")
	setStr(&cfg.LogLevel, "PAPERLEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
