package arb

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/engine/internal/domain"
)

type fakeBooks struct {
	books map[string]domain.OrderbookSnapshot
	errs  map[string]error
}

func (f *fakeBooks) Book(_ context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	if err := f.errs[assetID]; err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	book, ok := f.books[assetID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return book, nil
}

type fakeMarkets struct {
	markets []domain.Market
}

func (f *fakeMarkets) Market(_ context.Context, id string) (domain.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeMarkets) ActiveMarkets(context.Context, int) ([]domain.Market, error) {
	return f.markets, nil
}

func askBook(asset string, price, size float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		AssetID:   asset,
		Asks:      []domain.PriceLevel{{Price: price, Size: size}},
		BestAsk:   price,
		Timestamp: time.Now(),
	}
}

func testMarket() domain.Market {
	return domain.Market{
		ID:       "mkt-1",
		Question: "Will it rain tomorrow?",
		TokenIDs: [2]string{"tok-yes", "tok-no"},
		Volume:   50_000,
		Status:   domain.MarketStatusActive,
	}
}

func testParams() Params {
	return Params{
		ScanInterval:   5 * time.Second,
		FeeRate:        0.01,
		MinProfitPct:   0.005,
		MaxProfitPct:   0.20,
		MinLegDepthUSD: 50,
		MaxMarkets:     100,
	}
}

func TestScanGates(t *testing.T) {
	tests := []struct {
		name      string
		yesAsk    float64
		noAsk     float64
		depth     float64 // shares at best ask, both legs
		wantOK    bool
		wantCost  float64
		wantPct   float64
		tolerance float64
	}{
		{
			name:   "profitable pair",
			yesAsk: 0.48, noAsk: 0.49, depth: 500,
			wantOK:    true,
			wantCost:  0.97 * 1.01,
			wantPct:   (1 - 0.97*1.01) / (0.97 * 1.01), // ~2.07%
			tolerance: 1e-9,
		},
		{
			name:   "combined cost above one",
			yesAsk: 0.52, noAsk: 0.50, depth: 500,
			wantOK: false,
		},
		{
			name:   "fee pushes cost past the buffer",
			yesAsk: 0.49, noAsk: 0.49, depth: 500,
			// raw 0.98 looks fine, 0.98*1.01 = 0.9898 still passes, so valid.
			wantOK:    true,
			wantCost:  0.98 * 1.01,
			wantPct:   (1 - 0.98*1.01) / (0.98 * 1.01),
			tolerance: 1e-9,
		},
		{
			name:   "profit too good to be true",
			yesAsk: 0.30, noAsk: 0.30, depth: 500,
			wantOK: false, // ~65% edge, above max_profit_pct
		},
		{
			name:   "thin leg",
			yesAsk: 0.48, noAsk: 0.49, depth: 10, // 0.48*10 < $50
			wantOK: false,
		},
		{
			name:   "unquoted side",
			yesAsk: 0, noAsk: 0.49, depth: 500,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
				"tok-yes": askBook("tok-yes", tt.yesAsk, tt.depth),
				"tok-no":  askBook("tok-no", tt.noAsk, tt.depth),
			}}
			cache := NewCache(15 * time.Second)
			d := NewDetector(books, &fakeMarkets{}, cache, testParams(), slog.Default())

			opp, ok, err := d.Scan(context.Background(), testMarket())
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)

			if tt.wantOK {
				assert.InDelta(t, tt.wantCost, opp.Cost, tt.tolerance)
				assert.InDelta(t, tt.wantPct, opp.ProfitPct, tt.tolerance)
				_, cached := cache.GetValid("mkt-1")
				assert.True(t, cached)
			} else {
				_, cached := cache.GetValid("mkt-1")
				assert.False(t, cached)
			}
		})
	}
}

func TestScanReplacesAndRemoves(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"tok-yes": askBook("tok-yes", 0.48, 500),
		"tok-no":  askBook("tok-no", 0.49, 500),
	}}
	cache := NewCache(15 * time.Second)
	d := NewDetector(books, &fakeMarkets{}, cache, testParams(), slog.Default())
	ctx := context.Background()

	_, ok, err := d.Scan(ctx, testMarket())
	require.NoError(t, err)
	require.True(t, ok)

	// Tighter quote replaces the entry.
	books.books["tok-yes"] = askBook("tok-yes", 0.47, 500)
	opp, ok, err := d.Scan(ctx, testMarket())
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.47, opp.YesAsk, 1e-9)
	got, _ := cache.GetValid("mkt-1")
	assert.InDelta(t, 0.47, got.YesAsk, 1e-9)

	// Market moves away: the stale entry must not linger.
	books.books["tok-yes"] = askBook("tok-yes", 0.55, 500)
	_, ok, err = d.Scan(ctx, testMarket())
	require.NoError(t, err)
	assert.False(t, ok)
	_, cached := cache.GetValid("mkt-1")
	assert.False(t, cached)

	// Book fetch failure also clears the entry.
	d.cache.Put(domain.ArbitrageOpportunity{MarketID: "mkt-1", DetectedAt: time.Now()})
	books.errs = map[string]error{"tok-yes": domain.ErrStaleBook}
	_, _, err = d.Scan(ctx, testMarket())
	require.Error(t, err)
	_, cached = cache.GetValid("mkt-1")
	assert.False(t, cached)
}

func TestCacheStaleness(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(15 * time.Second)
	cache.SetClock(func() time.Time { return now })

	cache.Put(domain.ArbitrageOpportunity{MarketID: "mkt-1", ProfitPct: 0.02, DetectedAt: now})

	_, ok := cache.GetValid("mkt-1")
	assert.True(t, ok)

	now = now.Add(14 * time.Second)
	_, ok = cache.GetValid("mkt-1")
	assert.True(t, ok, "within max age")

	now = now.Add(2 * time.Second)
	_, ok = cache.GetValid("mkt-1")
	assert.False(t, ok, "past max age")

	assert.Empty(t, cache.Snapshot())
	assert.Zero(t, cache.Prune())
}

func TestSweepCountsOpportunities(t *testing.T) {
	thin := testMarket()
	thin.ID = "mkt-thin"
	thin.Volume = 100 // below min volume, skipped entirely

	second := testMarket()
	second.ID = "mkt-2"
	second.TokenIDs = [2]string{"tok2-yes", "tok2-no"}

	books := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"tok-yes":  askBook("tok-yes", 0.48, 500),
		"tok-no":   askBook("tok-no", 0.49, 500),
		"tok2-yes": askBook("tok2-yes", 0.60, 500),
		"tok2-no":  askBook("tok2-no", 0.55, 500),
	}}
	markets := &fakeMarkets{markets: []domain.Market{testMarket(), second, thin}}

	params := testParams()
	params.MinVolume = 10_000
	cache := NewCache(15 * time.Second)
	d := NewDetector(books, markets, cache, params, slog.Default())

	found := d.Sweep(context.Background())
	assert.Equal(t, 1, found)
	assert.Len(t, cache.Snapshot(), 1)
}
