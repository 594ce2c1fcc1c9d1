package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYCOPY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "POLYCOPY_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.FunderAddress, "POLYCOPY_SIGNER_FUNDER_ADDRESS")
	setStr(&cfg.Signer.EncryptedKeyPath, "POLYCOPY_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "POLYCOPY_SIGNER_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCOPY_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYCOPY_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYCOPY_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYCOPY_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYCOPY_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYCOPY_POLYMARKET_SIGNATURE_TYPE")

	// ── Goldsky ──
	setStr(&cfg.Goldsky.URL, "POLYCOPY_GOLDSKY_URL")
	setStr(&cfg.Goldsky.APIKey, "POLYCOPY_GOLDSKY_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYCOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYCOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCOPY_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCOPY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYCOPY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCOPY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCOPY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYCOPY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCOPY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYCOPY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYCOPY_S3_FORCE_PATH_STYLE")

	// ── Watch ──
	setDuration(&cfg.Watch.PollInterval, "POLYCOPY_WATCH_POLL_INTERVAL")
	setDuration(&cfg.Watch.FallbackWindow, "POLYCOPY_WATCH_FALLBACK_WINDOW")
	setDuration(&cfg.Watch.DedupTTL, "POLYCOPY_WATCH_DEDUP_TTL")
	setInt(&cfg.Watch.QueueSize, "POLYCOPY_WATCH_QUEUE_SIZE")

	// ── Arbitrage ──
	setDuration(&cfg.Arbitrage.ScanInterval, "POLYCOPY_ARBITRAGE_SCAN_INTERVAL")
	setFloat64(&cfg.Arbitrage.FeeRate, "POLYCOPY_ARBITRAGE_FEE_RATE")
	setFloat64(&cfg.Arbitrage.MinProfitPct, "POLYCOPY_ARBITRAGE_MIN_PROFIT_PCT")
	setFloat64(&cfg.Arbitrage.MaxProfitPct, "POLYCOPY_ARBITRAGE_MAX_PROFIT_PCT")
	setFloat64(&cfg.Arbitrage.MinLegDepthUSD, "POLYCOPY_ARBITRAGE_MIN_LEG_DEPTH_USD")
	setInt(&cfg.Arbitrage.MaxMarkets, "POLYCOPY_ARBITRAGE_MAX_MARKETS")
	setFloat64(&cfg.Arbitrage.MinVolume, "POLYCOPY_ARBITRAGE_MIN_VOLUME")
	setDuration(&cfg.Arbitrage.MaxBookAge, "POLYCOPY_ARBITRAGE_MAX_BOOK_AGE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTotalExposureUSD, "POLYCOPY_RISK_MAX_TOTAL_EXPOSURE_USD")
	setFloat64(&cfg.Risk.MaxPerMarketUSD, "POLYCOPY_RISK_MAX_PER_MARKET_USD")
	setFloat64(&cfg.Risk.MaxDailyLossUSD, "POLYCOPY_RISK_MAX_DAILY_LOSS_USD")
	setBool(&cfg.Risk.AutoHedge, "POLYCOPY_RISK_AUTO_HEDGE")
	setFloat64(&cfg.Risk.HedgeImbalance, "POLYCOPY_RISK_HEDGE_IMBALANCE")
	setDuration(&cfg.Risk.StatusInterval, "POLYCOPY_RISK_STATUS_INTERVAL")

	// ── Replicate ──
	setFloat64(&cfg.Replicate.MinOrderUSD, "POLYCOPY_REPLICATE_MIN_ORDER_USD")
	setBool(&cfg.Replicate.DryRun, "POLYCOPY_REPLICATE_DRY_RUN")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYCOPY_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYCOPY_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POLYCOPY_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.LogLevel, "POLYCOPY_LOG_LEVEL")
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
