// Package watcher polls trade providers for activity on watched wallets
// and emits each trade exactly once onto the event channel.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polycopy/engine/internal/dedup"
	"github.com/polycopy/engine/internal/domain"
)

// Options tune the polling loop.
type Options struct {
	PollInterval   time.Duration
	FallbackWindow time.Duration // event-time tolerance for the same trade across providers
	DedupTTL       time.Duration // retention for both dedup layers
}

// Watcher polls an ordered provider chain per wallet. The first provider
// that returns trades for a poll wins; later providers are fallbacks for
// outages, not additional sources.
type Watcher struct {
	wallets   []domain.WatchedWallet
	providers []domain.TradeProvider
	store     domain.TradeEventStore // optional persistence + watermark seed
	out       chan<- domain.TradeEvent
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	seenPositions *dedup.Set // layer 1: venue position ids
	recentTrades  *dedup.Set // layer 2: wallet|market|outcome|side keyed by event time

	mu    sync.Mutex
	state map[string]*walletState // by wallet address
}

type walletState struct {
	wallet    domain.WatchedWallet
	watermark time.Time
	stats     domain.WalletStats
}

// New builds a watcher emitting onto out. store may be nil.
func New(wallets []domain.WatchedWallet, providers []domain.TradeProvider, store domain.TradeEventStore, out chan<- domain.TradeEvent, opts Options, logger *slog.Logger) *Watcher {
	w := &Watcher{
		wallets:       wallets,
		providers:     providers,
		store:         store,
		out:           out,
		opts:          opts,
		logger:        logger.With(slog.String("component", "watcher")),
		now:           time.Now,
		seenPositions: dedup.NewSet(opts.DedupTTL),
		recentTrades:  dedup.NewSet(opts.DedupTTL),
		state:         make(map[string]*walletState),
	}
	for _, wallet := range wallets {
		if !wallet.Enabled {
			continue
		}
		w.state[wallet.Address] = &walletState{wallet: wallet}
	}
	return w
}

// Seed initializes per-wallet watermarks from the trade event store so a
// restart does not replay history. No-op without a store.
func (w *Watcher) Seed(ctx context.Context) error {
	if w.store == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for addr, st := range w.state {
		last, err := w.store.LastTimestamp(ctx, addr)
		if err != nil {
			return fmt.Errorf("watcher: seed watermark %s: %w", addr, err)
		}
		st.watermark = last
		st.stats.Watermark = last
	}
	w.logger.InfoContext(ctx, "watermarks seeded", slog.Int("wallets", len(w.state)))
	return nil
}

// PollWallet fetches fresh trades for one wallet and returns the events
// that survived deduplication, oldest first. Only emitted events advance
// the watermark; a suppressed duplicate cannot move it past a trade that
// has not been seen yet.
func (w *Watcher) PollWallet(ctx context.Context, addr string) ([]domain.TradeEvent, error) {
	w.mu.Lock()
	st, ok := w.state[addr]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("watcher: unknown wallet %s: %w", addr, domain.ErrNotFound)
	}
	since := st.watermark
	wallet := st.wallet
	w.mu.Unlock()

	events, source, err := w.fetch(ctx, wallet.Address, since)
	if err != nil {
		return nil, err
	}

	fresh := make([]domain.TradeEvent, 0, len(events))
	var dups int64
	var maxTS time.Time
	for _, ev := range events {
		ev.Wallet = wallet.Address
		ev.WalletName = wallet.Name
		if ev.Source == "" {
			ev.Source = source
		}
		if w.isDuplicate(ev) {
			dups++
			continue
		}
		if ev.Timestamp.After(maxTS) {
			maxTS = ev.Timestamp
		}
		fresh = append(fresh, ev)
	}

	w.mu.Lock()
	if maxTS.After(st.watermark) {
		st.watermark = maxTS
		st.stats.Watermark = maxTS
	}
	st.stats.TradesSeen += int64(len(events))
	st.stats.Duplicates += dups
	for _, ev := range fresh {
		st.stats.VolumeUSD += ev.NotionalUSD
		if ev.Timestamp.After(st.stats.LastTradeAt) {
			st.stats.LastTradeAt = ev.Timestamp
		}
	}
	w.mu.Unlock()

	return fresh, nil
}

// fetch walks the provider chain in order and returns the first
// non-empty result. Provider errors fall through to the next provider.
func (w *Watcher) fetch(ctx context.Context, addr string, since time.Time) ([]domain.TradeEvent, string, error) {
	var lastErr error
	for _, p := range w.providers {
		events, err := p.Trades(ctx, addr, since)
		if err != nil {
			lastErr = err
			w.logger.DebugContext(ctx, "provider failed, falling back",
				slog.String("provider", p.Name()),
				slog.String("wallet", addr),
				slog.String("error", err.Error()))
			continue
		}
		if len(events) > 0 {
			return events, p.Name(), nil
		}
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("watcher: all providers failed for %s: %w", addr, lastErr)
	}
	return nil, "", nil
}

// isDuplicate applies both dedup layers. Events carrying a venue
// position id are deduplicated on it; every event additionally claims
// its fallback key so the same trade surfacing through a different
// provider with an event timestamp inside the fallback window is
// suppressed. Id-less trades with the same shape but timestamps outside
// the window are distinct.
func (w *Watcher) isDuplicate(ev domain.TradeEvent) bool {
	dup := false
	if key := ev.PositionKey(); key != "" {
		dup = w.seenPositions.Seen(key)
	}
	if w.recentTrades.SeenNear(ev.FallbackKey(), ev.Timestamp, w.opts.FallbackWindow) && ev.PositionID == "" {
		dup = true
	}
	return dup
}

// Run polls every enabled wallet on the configured interval and blocks
// each fresh event onto the output channel until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Info("watcher started",
		slog.Int("wallets", len(w.state)),
		slog.Int("providers", len(w.providers)),
		slog.Duration("interval", w.opts.PollInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.pollAll(ctx)
			w.seenPositions.Cleanup()
			w.recentTrades.Cleanup()
		}
	}
}

// pollAll fans out one poll per wallet and forwards fresh events. A slow
// consumer applies backpressure: the send blocks rather than dropping.
func (w *Watcher) pollAll(ctx context.Context) {
	w.mu.Lock()
	addrs := make([]string, 0, len(w.state))
	for addr := range w.state {
		addrs = append(addrs, addr)
	}
	w.mu.Unlock()

	results := make([][]domain.TradeEvent, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			events, err := w.PollWallet(ctx, addr)
			if err != nil {
				w.logger.WarnContext(ctx, "poll failed",
					slog.String("wallet", addr),
					slog.String("error", err.Error()))
				return
			}
			results[i] = events
		}(i, addr)
	}
	wg.Wait()

	for _, events := range results {
		if len(events) == 0 {
			continue
		}
		if w.store != nil {
			if err := w.store.InsertBatch(ctx, events); err != nil {
				w.logger.WarnContext(ctx, "event persist failed",
					slog.Int("count", len(events)),
					slog.String("error", err.Error()))
			}
		}
		for _, ev := range events {
			select {
			case w.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stats returns a copy of the per-wallet counters.
func (w *Watcher) Stats() map[string]domain.WalletStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]domain.WalletStats, len(w.state))
	for addr, st := range w.state {
		out[addr] = st.stats
	}
	return out
}
