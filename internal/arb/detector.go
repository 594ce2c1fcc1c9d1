package arb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// maxCombinedCost is the fee-adjusted cost above which buying both sides
// no longer leaves a settlement buffer.
const maxCombinedCost = 0.99

// scanConcurrency bounds how many markets are priced at once per sweep.
const scanConcurrency = 8

// Params tune the detector gates.
type Params struct {
	ScanInterval   time.Duration
	FeeRate        float64 // taker fee applied to the combined cost
	MinProfitPct   float64
	MaxProfitPct   float64 // above this the quote is treated as bogus
	MinLegDepthUSD float64
	MaxMarkets     int
	MinVolume      float64
}

// Detector sweeps active markets and prices the YES+NO buy-both edge.
type Detector struct {
	books   domain.BookSource
	markets domain.MarketSource
	cache   *Cache
	params  Params
	logger  *slog.Logger
	now     func() time.Time
}

// NewDetector builds a detector writing into cache.
func NewDetector(books domain.BookSource, markets domain.MarketSource, cache *Cache, params Params, logger *slog.Logger) *Detector {
	return &Detector{
		books:   books,
		markets: markets,
		cache:   cache,
		params:  params,
		logger:  logger.With(slog.String("component", "arb_detector")),
		now:     time.Now,
	}
}

// Cache exposes the opportunity cache the detector writes into.
func (d *Detector) Cache() *Cache { return d.cache }

// Scan prices one market and updates the cache: a valid opportunity
// replaces the prior entry, anything else removes it. The bool reports
// whether a valid opportunity is now cached for the market.
func (d *Detector) Scan(ctx context.Context, market domain.Market) (domain.ArbitrageOpportunity, bool, error) {
	yesBook, err := d.books.Book(ctx, market.TokenIDs[0])
	if err != nil {
		d.cache.Delete(market.ID)
		return domain.ArbitrageOpportunity{}, false, fmt.Errorf("arb: yes book %s: %w", market.ID, err)
	}
	noBook, err := d.books.Book(ctx, market.TokenIDs[1])
	if err != nil {
		d.cache.Delete(market.ID)
		return domain.ArbitrageOpportunity{}, false, fmt.Errorf("arb: no book %s: %w", market.ID, err)
	}

	opp, ok := d.price(market, yesBook, noBook)
	if !ok {
		d.cache.Delete(market.ID)
		return domain.ArbitrageOpportunity{}, false, nil
	}
	d.cache.Put(opp)
	return opp, true, nil
}

// price applies the gates in order: quotable, fee-adjusted cost under the
// buffer, profit band, per-leg depth.
func (d *Detector) price(market domain.Market, yesBook, noBook domain.OrderbookSnapshot) (domain.ArbitrageOpportunity, bool) {
	yesAsk := yesBook.BestAsk
	noAsk := noBook.BestAsk
	if yesAsk <= 0 || noAsk <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	rawCost := yesAsk + noAsk
	cost := rawCost * (1 + d.params.FeeRate)
	if cost >= maxCombinedCost {
		return domain.ArbitrageOpportunity{}, false
	}

	profit := (1 - cost) / cost
	if profit < d.params.MinProfitPct || profit > d.params.MaxProfitPct {
		return domain.ArbitrageOpportunity{}, false
	}

	yesDepth := yesBook.BestAskDepthUSD()
	noDepth := noBook.BestAskDepthUSD()
	if yesDepth < d.params.MinLegDepthUSD || noDepth < d.params.MinLegDepthUSD {
		return domain.ArbitrageOpportunity{}, false
	}

	return domain.ArbitrageOpportunity{
		MarketID:    market.ID,
		Question:    market.Question,
		YesAsk:      yesAsk,
		NoAsk:       noAsk,
		RawCost:     rawCost,
		Cost:        cost,
		ProfitPct:   profit,
		YesDepthUSD: yesDepth,
		NoDepthUSD:  noDepth,
		DetectedAt:  d.now(),
	}, true
}

// Sweep prices every eligible active market once. Per-market failures are
// logged and skipped so one bad book does not stall the sweep.
func (d *Detector) Sweep(ctx context.Context) int {
	markets, err := d.markets.ActiveMarkets(ctx, d.params.MaxMarkets)
	if err != nil {
		d.logger.WarnContext(ctx, "active market fetch failed", slog.String("error", err.Error()))
		return 0
	}

	sem := make(chan struct{}, scanConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	found := 0

	for _, market := range markets {
		if market.Volume < d.params.MinVolume {
			continue
		}
		if market.TokenIDs[0] == "" || market.TokenIDs[1] == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(m domain.Market) {
			defer wg.Done()
			defer func() { <-sem }()

			opp, ok, err := d.Scan(ctx, m)
			if err != nil {
				d.logger.DebugContext(ctx, "scan failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()))
				return
			}
			if ok {
				mu.Lock()
				found++
				mu.Unlock()
				d.logger.InfoContext(ctx, "opportunity",
					slog.String("market_id", m.ID),
					slog.Float64("cost", opp.Cost),
					slog.Float64("profit_pct", opp.ProfitPct))
			}
		}(market)
	}
	wg.Wait()
	return found
}

// Run sweeps on the configured interval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.params.ScanInterval)
	defer ticker.Stop()

	d.logger.Info("detector started",
		slog.Duration("interval", d.params.ScanInterval),
		slog.Int("max_markets", d.params.MaxMarkets))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("detector stopped")
			return ctx.Err()
		case <-ticker.C:
			found := d.Sweep(ctx)
			live := d.cache.Prune()
			d.logger.DebugContext(ctx, "sweep complete",
				slog.Int("found", found),
				slog.Int("live", live))
		}
	}
}
