package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polycopy/engine/internal/arb"
	"github.com/polycopy/engine/internal/domain"
	"github.com/polycopy/engine/internal/feed"
	"github.com/polycopy/engine/internal/replicator"
	"github.com/polycopy/engine/internal/risk"
	"github.com/polycopy/engine/internal/watcher"

	s3blob "github.com/polycopy/engine/internal/blob/s3"
)

// CopyMode mirrors watched wallets: watcher, arbitrage detection, and
// the replication engine, but no archival.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	det, err := a.startScanning(ctx, g, deps)
	if err != nil {
		return err
	}

	events := make(chan domain.TradeEvent, a.cfg.Watch.QueueSize)
	w, err := a.startWatcher(ctx, g, deps, events)
	if err != nil {
		return err
	}

	ledger, err := a.startReplication(ctx, g, deps, events, det.Cache())
	if err != nil {
		return err
	}

	g.Go(func() error { return a.statusLoop(ctx, deps, w, ledger, det.Cache()) })
	return g.Wait()
}

// ScanMode runs detection only and logs live opportunities.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	det, err := a.startScanning(ctx, g, deps)
	if err != nil {
		return err
	}

	g.Go(func() error { return a.statusLoop(ctx, deps, nil, nil, det.Cache()) })
	return g.Wait()
}

// MonitorMode observes and persists wallet activity without placing
// orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	events := make(chan domain.TradeEvent, a.cfg.Watch.QueueSize)
	w, err := a.startWatcher(ctx, g, deps, events)
	if err != nil {
		return err
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				a.logger.InfoContext(ctx, "trade observed",
					slog.String("wallet", ev.Wallet),
					slog.String("wallet_name", ev.WalletName),
					slog.String("market_id", ev.MarketID),
					slog.String("outcome", string(ev.Outcome)),
					slog.String("side", string(ev.Side)),
					slog.Float64("price", ev.Price),
					slog.Float64("notional_usd", ev.NotionalUSD),
					slog.String("source", ev.Source))
			}
		}
	})

	a.startArchiver(ctx, g, deps)
	g.Go(func() error { return a.statusLoop(ctx, deps, w, nil, nil) })
	return g.Wait()
}

// FullMode runs every subsystem: copy trading plus archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	det, err := a.startScanning(ctx, g, deps)
	if err != nil {
		return err
	}

	events := make(chan domain.TradeEvent, a.cfg.Watch.QueueSize)
	w, err := a.startWatcher(ctx, g, deps, events)
	if err != nil {
		return err
	}

	ledger, err := a.startReplication(ctx, g, deps, events, det.Cache())
	if err != nil {
		return err
	}

	a.startArchiver(ctx, g, deps)
	g.Go(func() error { return a.statusLoop(ctx, deps, w, ledger, det.Cache()) })
	return g.Wait()
}

// startScanning launches the market catalog, the WebSocket book feed,
// and the arbitrage detector. The catalog is refreshed once up front so
// the feed has assets to subscribe to.
func (a *App) startScanning(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*arb.Detector, error) {
	if err := deps.Catalog.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial market refresh failed, catalog fills in later",
			slog.String("error", err.Error()))
	}
	g.Go(func() error { return deps.Catalog.Run(ctx) })

	if a.cfg.Polymarket.WsHost != "" {
		assets := a.feedAssets(ctx, deps)
		bookFeed := feed.New(a.cfg.Polymarket.WsHost, assets, deps.BookCache, a.logger)
		g.Go(func() error {
			defer bookFeed.Close()
			return bookFeed.Run(ctx)
		})
	}

	// Opportunities go stale after three missed sweeps.
	cache := arb.NewCache(3 * a.cfg.Arbitrage.ScanInterval.Duration)
	det := arb.NewDetector(deps.Books, deps.Catalog, cache, arb.Params{
		ScanInterval:   a.cfg.Arbitrage.ScanInterval.Duration,
		FeeRate:        a.cfg.Arbitrage.FeeRate,
		MinProfitPct:   a.cfg.Arbitrage.MinProfitPct,
		MaxProfitPct:   a.cfg.Arbitrage.MaxProfitPct,
		MinLegDepthUSD: a.cfg.Arbitrage.MinLegDepthUSD,
		MaxMarkets:     a.cfg.Arbitrage.MaxMarkets,
		MinVolume:      a.cfg.Arbitrage.MinVolume,
	}, a.logger)
	g.Go(func() error { return det.Run(ctx) })

	return det, nil
}

// startWatcher seeds watermarks and launches the wallet poller.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies, events chan domain.TradeEvent) (*watcher.Watcher, error) {
	w := watcher.New(a.watchedWallets(), deps.Providers, deps.EventStore, events, watcher.Options{
		PollInterval:   a.cfg.Watch.PollInterval.Duration,
		FallbackWindow: a.cfg.Watch.FallbackWindow.Duration,
		DedupTTL:       a.cfg.Watch.DedupTTL.Duration,
	}, a.logger)

	if err := w.Seed(ctx); err != nil {
		return nil, err
	}
	g.Go(func() error { return w.Run(ctx) })
	return w, nil
}

// startReplication restores the exposure ledger from the journal and
// launches the replication engine.
func (a *App) startReplication(ctx context.Context, g *errgroup.Group, deps *Dependencies, events chan domain.TradeEvent, opps *arb.Cache) (*risk.Ledger, error) {
	ledger := risk.NewLedger(risk.Limits{
		MaxTotalExposureUSD: a.cfg.Risk.MaxTotalExposureUSD,
		MaxPerMarketUSD:     a.cfg.Risk.MaxPerMarketUSD,
		MaxDailyLossUSD:     a.cfg.Risk.MaxDailyLossUSD,
		AutoHedge:           a.cfg.Risk.AutoHedge,
		HedgeImbalance:      a.cfg.Risk.HedgeImbalance,
	}, deps.Journal, a.logger)
	if err := ledger.Restore(ctx); err != nil {
		return nil, err
	}

	engine := replicator.New(
		a.watchedWallets(), events, opps, ledger, deps.Gateway, deps.Catalog,
		deps.Notifier, replicator.Options{
			MinOrderUSD: a.cfg.Replicate.MinOrderUSD,
			CopiedTTL:   a.cfg.Watch.DedupTTL.Duration,
		}, a.logger)
	g.Go(func() error { return engine.Run(ctx) })
	return ledger, nil
}

// startArchiver launches the retention loop when archival is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Blob == nil {
		return
	}
	archiver := s3blob.NewArchiver(
		deps.Blob, deps.EventStore, deps.Audit,
		time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
		a.cfg.Archive.Interval.Duration,
		a.logger)
	g.Go(func() error { return archiver.Run(ctx) })
}

// statusLoop periodically logs a health line: exposure, wallet
// counters, live opportunities, and subgraph indexing lag.
func (a *App) statusLoop(ctx context.Context, deps *Dependencies, w *watcher.Watcher, ledger *risk.Ledger, opps *arb.Cache) error {
	interval := a.cfg.Risk.StatusInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attrs := []slog.Attr{slog.Int("markets", deps.Catalog.Size())}

			if ledger != nil {
				snap := ledger.Snapshot()
				attrs = append(attrs,
					slog.Float64("total_exposure_usd", snap.TotalUSD),
					slog.Float64("daily_pnl_usd", snap.DailyPnLUSD),
					slog.Int("open_positions", snap.OpenPositions))
			}
			if w != nil {
				var seen, dups int64
				for _, st := range w.Stats() {
					seen += st.TradesSeen
					dups += st.Duplicates
				}
				attrs = append(attrs,
					slog.Int64("trades_seen", seen),
					slog.Int64("duplicates", dups))
			}
			if opps != nil {
				attrs = append(attrs, slog.Int("live_opportunities", len(opps.Snapshot())))
			}
			if deps.Goldsky != nil {
				if block, err := deps.Goldsky.FetchLatestBlock(ctx); err == nil {
					attrs = append(attrs, slog.Int64("subgraph_block", block))
				}
			}

			a.logger.LogAttrs(ctx, slog.LevelInfo, "status", attrs...)
		}
	}
}

// feedAssets collects the token ids to subscribe the book feed to.
func (a *App) feedAssets(ctx context.Context, deps *Dependencies) []string {
	mkts, err := deps.Catalog.ActiveMarkets(ctx, a.cfg.Arbitrage.MaxMarkets)
	if err != nil {
		a.logger.WarnContext(ctx, "feed assets: list markets failed", slog.String("error", err.Error()))
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range mkts {
		for _, tid := range m.TokenIDs {
			if tid == "" || seen[tid] {
				continue
			}
			seen[tid] = true
			ids = append(ids, tid)
		}
	}
	return ids
}

// watchedWallets converts the config wallet entries to their domain
// form, keeping only enabled entries.
func (a *App) watchedWallets() []domain.WatchedWallet {
	out := make([]domain.WatchedWallet, 0, len(a.cfg.Watch.Wallets))
	for _, w := range a.cfg.Watch.Wallets {
		if !w.Enabled {
			continue
		}
		out = append(out, domain.WatchedWallet{
			Address:            w.Address,
			Name:               w.Name,
			Enabled:            w.Enabled,
			MinWinRate:         w.MinWinRate,
			SizeScale:          w.SizeScale,
			MaxCopyUSD:         w.MaxCopyUSD,
			Markets:            w.Markets,
			RequireOpportunity: w.RequireOpportunity,
		})
	}
	return out
}
