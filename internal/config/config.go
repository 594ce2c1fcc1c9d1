// Package config defines the top-level configuration for the copy-trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Signer     SignerConfig     `toml:"signer"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Goldsky    GoldskyConfig    `toml:"goldsky"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Watch      WatchConfig      `toml:"watch"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Risk       RiskConfig       `toml:"risk"`
	Replicate  ReplicateConfig  `toml:"replicate"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SignerConfig holds Ethereum wallet credentials for order signing.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// GoldskyConfig holds the on-chain order-fill subgraph endpoint.
type GoldskyConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// WalletEntry configures one source wallet to copy.
type WalletEntry struct {
	Address            string   `toml:"address"`
	Name               string   `toml:"name"`
	Enabled            bool     `toml:"enabled"`
	MinWinRate         float64  `toml:"min_win_rate"`
	SizeScale          float64  `toml:"size_scale"`
	MaxCopyUSD         float64  `toml:"max_copy_usd"`
	Markets            []string `toml:"markets"`
	RequireOpportunity bool     `toml:"require_opportunity"`
}

// WatchConfig holds wallet-watcher parameters.
type WatchConfig struct {
	PollInterval   duration      `toml:"poll_interval"`
	FallbackWindow duration      `toml:"fallback_window"` // same-trade window across providers
	DedupTTL       duration      `toml:"dedup_ttl"`       // retention for seen position ids
	QueueSize      int           `toml:"queue_size"`      // trade event channel capacity
	Wallets        []WalletEntry `toml:"wallets"`
}

// ArbitrageConfig holds detector and opportunity-cache parameters.
type ArbitrageConfig struct {
	ScanInterval   duration `toml:"scan_interval"`
	FeeRate        float64  `toml:"fee_rate"`         // taker fee applied to the combined cost
	MinProfitPct   float64  `toml:"min_profit_pct"`   // profit per dollar, 0.01 = 1%
	MaxProfitPct   float64  `toml:"max_profit_pct"`   // above this the quote is treated as bogus
	MinLegDepthUSD float64  `toml:"min_leg_depth_usd"`
	MaxMarkets     int      `toml:"max_markets"`
	MinVolume      float64  `toml:"min_volume"`
	MaxBookAge     duration `toml:"max_book_age"` // cached snapshots older than this force an HTTP refetch
}

// RiskConfig holds exposure ledger ceilings.
type RiskConfig struct {
	MaxTotalExposureUSD float64  `toml:"max_total_exposure_usd"`
	MaxPerMarketUSD     float64  `toml:"max_per_market_usd"`
	MaxDailyLossUSD     float64  `toml:"max_daily_loss_usd"`
	AutoHedge           bool     `toml:"auto_hedge"`
	HedgeImbalance      float64  `toml:"hedge_imbalance"` // YES/NO imbalance ratio that triggers hedging
	StatusInterval      duration `toml:"status_interval"`
}

// ReplicateConfig holds replication engine parameters.
type ReplicateConfig struct {
	MinOrderUSD float64 `toml:"min_order_usd"` // venue minimum, orders below are skipped
	DryRun      bool    `toml:"dry_run"`
}

// ArchiveConfig holds trade-event archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
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
			Bucket:         "polycopy-data",
			ForcePathStyle: true,
		},
		Watch: WatchConfig{
			PollInterval:   duration{10 * time.Second},
			FallbackWindow: duration{5 * time.Second},
			DedupTTL:       duration{24 * time.Hour},
			QueueSize:      256,
		},
		Arbitrage: ArbitrageConfig{
			ScanInterval:   duration{5 * time.Second},
			FeeRate:        0.01,
			MinProfitPct:   0.005,
			MaxProfitPct:   0.20,
			MinLegDepthUSD: 50.0,
			MaxMarkets:     100,
			MinVolume:      10_000,
			MaxBookAge:     duration{10 * time.Second},
		},
		Risk: RiskConfig{
			MaxTotalExposureUSD: 1_000,
			MaxPerMarketUSD:     200,
			MaxDailyLossUSD:     100,
			AutoHedge:           true,
			HedgeImbalance:      0.20,
			StatusInterval:      duration{time.Minute},
		},
		Replicate: ReplicateConfig{
			MinOrderUSD: 10.0,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_copied", "hedge_placed", "hedge_unwound", "daily_loss_stop", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"scan":    true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, scan, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	mode := strings.ToLower(c.Mode)
	placesOrders := (mode == "copy" || mode == "full") && !c.Replicate.DryRun

	// Signer — required whenever the engine can place real orders.
	if placesOrders {
		if c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
			errs = append(errs, "signer: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
			errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Postgres
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
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Watch — copying without wallets is a configuration mistake.
	if mode == "copy" || mode == "full" {
		if countEnabled(c.Watch.Wallets) == 0 {
			errs = append(errs, "watch: at least one enabled wallet is required for mode "+c.Mode)
		}
	}
	if c.Watch.PollInterval.Duration <= 0 {
		errs = append(errs, "watch: poll_interval must be > 0")
	}
	if c.Watch.FallbackWindow.Duration <= 0 {
		errs = append(errs, "watch: fallback_window must be > 0")
	}
	if c.Watch.QueueSize < 1 {
		errs = append(errs, "watch: queue_size must be >= 1")
	}
	for i, w := range c.Watch.Wallets {
		if !strings.HasPrefix(w.Address, "0x") || len(w.Address) != 42 {
			errs = append(errs, fmt.Sprintf("watch: wallets[%d]: address %q is not a 0x-prefixed 20-byte address", i, w.Address))
		}
		if w.SizeScale <= 0 || w.SizeScale > 1 {
			errs = append(errs, fmt.Sprintf("watch: wallets[%d]: size_scale must be in (0, 1], got %v", i, w.SizeScale))
		}
		if w.MaxCopyUSD < 0 {
			errs = append(errs, fmt.Sprintf("watch: wallets[%d]: max_copy_usd must be >= 0", i))
		}
	}

	// Arbitrage
	if c.Arbitrage.ScanInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: scan_interval must be > 0")
	}
	if c.Arbitrage.FeeRate < 0 || c.Arbitrage.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: fee_rate must be in [0, 1), got %v", c.Arbitrage.FeeRate))
	}
	if c.Arbitrage.MinProfitPct < 0 {
		errs = append(errs, "arbitrage: min_profit_pct must be >= 0")
	}
	if c.Arbitrage.MaxProfitPct <= c.Arbitrage.MinProfitPct {
		errs = append(errs, "arbitrage: max_profit_pct must exceed min_profit_pct")
	}
	if c.Arbitrage.MinLegDepthUSD < 0 {
		errs = append(errs, "arbitrage: min_leg_depth_usd must be >= 0")
	}

	// Risk
	if c.Risk.MaxTotalExposureUSD <= 0 {
		errs = append(errs, "risk: max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxPerMarketUSD <= 0 {
		errs = append(errs, "risk: max_per_market_usd must be > 0")
	}
	if c.Risk.MaxPerMarketUSD > c.Risk.MaxTotalExposureUSD {
		errs = append(errs, "risk: max_per_market_usd must not exceed max_total_exposure_usd")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk: max_daily_loss_usd must be > 0")
	}
	if c.Risk.HedgeImbalance <= 0 || c.Risk.HedgeImbalance >= 1 {
		errs = append(errs, fmt.Sprintf("risk: hedge_imbalance must be in (0, 1), got %v", c.Risk.HedgeImbalance))
	}

	// Replicate
	if c.Replicate.MinOrderUSD <= 0 {
		errs = append(errs, "replicate: min_order_usd must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func countEnabled(wallets []WalletEntry) int {
	n := 0
	for _, w := range wallets {
		if w.Enabled {
			n++
		}
	}
	return n
}
