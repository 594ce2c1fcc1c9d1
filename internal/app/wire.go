package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	s3blob "github.com/polycopy/engine/internal/blob/s3"
	"github.com/polycopy/engine/internal/cache/redis"
	"github.com/polycopy/engine/internal/config"
	"github.com/polycopy/engine/internal/crypto"
	"github.com/polycopy/engine/internal/domain"
	"github.com/polycopy/engine/internal/feed"
	"github.com/polycopy/engine/internal/gateway"
	"github.com/polycopy/engine/internal/markets"
	"github.com/polycopy/engine/internal/notify"
	"github.com/polycopy/engine/internal/platform/goldsky"
	"github.com/polycopy/engine/internal/platform/polymarket"
	"github.com/polycopy/engine/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Fields not required by
// the configured mode stay nil.
type Dependencies struct {
	EventStore domain.TradeEventStore
	Journal    domain.PositionJournal
	Audit      domain.AuditStore

	BookCache *redis.BookCache
	Limiter   domain.RateLimiter

	Catalog *markets.Catalog
	Books   domain.BookSource // cache first, CLOB HTTP fallback
	Clob    *polymarket.ClobClient
	Goldsky *goldsky.Client

	Providers []domain.TradeProvider
	Gateway   *gateway.Gateway
	Notifier  *notify.Notifier
	Blob      *s3blob.Writer
}

// needsPostgres reports whether mode persists events and positions.
func needsPostgres(mode string) bool {
	switch mode {
	case "copy", "monitor", "full":
		return true
	default:
		return false
	}
}

// needsOrders reports whether mode places orders.
func needsOrders(mode string) bool {
	return mode == "copy" || mode == "full"
}

// Wire builds the concrete dependency graph for cfg and returns it with
// a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	if needsPostgres(cfg.Mode) {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pg.Pool()
		deps.EventStore = postgres.NewTradeEventStore(pool)
		deps.Journal = postgres.NewPositionJournal(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BookCache = redis.NewBookCache(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)

	// Market catalog over the Gamma API.
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Catalog = markets.New(gamma, markets.Options{
		MaxMarkets: cfg.Arbitrage.MaxMarkets,
	}, logger)

	// CLOB client. The signer is attached only when the mode places live
	// orders; without it the client still serves public book reads.
	var signer *crypto.Signer
	if needsOrders(cfg.Mode) && !cfg.Replicate.DryRun {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Signer.PrivateKey,
			EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
			KeyPassword:      cfg.Signer.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: load signing key: %w", err))
		}
		signer, err = crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
	}

	deps.Clob = polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:       cfg.Polymarket.ClobHost,
		SignatureType: cfg.Polymarket.SignatureType,
		FunderAddress: cfg.Signer.FunderAddress,
	}, signer, nil, deps.Limiter)

	deps.Books = feed.NewCachedBookSource(
		deps.BookCache, deps.Clob, cfg.Arbitrage.MaxBookAge.Duration, logger)

	if needsOrders(cfg.Mode) {
		if cfg.Replicate.DryRun {
			deps.Gateway = gateway.New(&dryRunSubmitter{logger: logger}, logger)
		} else {
			if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
				return fail(fmt.Errorf("wire: derive clob api key: %w", err))
			}
			deps.Gateway = gateway.New(deps.Clob, logger)
		}
	}

	// Trade providers, in fallback order: data-api trade history first,
	// on-chain fills second, the id-less activity feed last.
	dataClient := polymarket.NewDataClient(cfg.Polymarket.DataHost, deps.Limiter)
	deps.Providers = append(deps.Providers, polymarket.NewTradeHistoryProvider(dataClient))
	if cfg.Goldsky.URL != "" {
		deps.Goldsky = goldsky.NewClient(cfg.Goldsky.URL, cfg.Goldsky.APIKey)
		deps.Providers = append(deps.Providers, goldsky.NewFillProvider(deps.Goldsky, deps.Catalog))
	}
	deps.Providers = append(deps.Providers, polymarket.NewActivityProvider(dataClient))

	if cfg.Archive.Enabled && deps.EventStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blob = s3blob.NewWriter(s3Client)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// dryRunSubmitter accepts every order locally without touching the
// venue, so the full pipeline can run against production data risk-free.
type dryRunSubmitter struct {
	logger *slog.Logger
}

func (d *dryRunSubmitter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	id := "dry-" + uuid.NewString()
	d.logger.InfoContext(ctx, "dry run order",
		slog.String("order_id", id),
		slog.String("market_id", req.MarketID),
		slog.String("outcome", string(req.Outcome)),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size))
	return domain.OrderResult{Success: true, OrderID: id}, nil
}

func (d *dryRunSubmitter) CancelOrder(context.Context, string) error { return nil }
