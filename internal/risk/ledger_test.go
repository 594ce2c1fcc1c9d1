package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/engine/internal/domain"
)

func testLimits() Limits {
	return Limits{
		MaxTotalExposureUSD: 1000,
		MaxPerMarketUSD:     200,
		MaxDailyLossUSD:     100,
		AutoHedge:           true,
		HedgeImbalance:      0.20,
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(testLimits(), nil, slog.Default())
}

func mustOpen(t *testing.T, l *Ledger, market string, outcome domain.Outcome, sizeUSD, entry float64) domain.Position {
	t.Helper()
	pos, err := l.TryOpen(context.Background(), "0xabc", market, outcome, domain.OrderSideBuy, sizeUSD, entry)
	require.NoError(t, err)
	return pos
}

func TestCanOpenAdmissionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("per market ceiling", func(t *testing.T) {
		l := newTestLedger(t)
		mustOpen(t, l, "mkt-1", domain.OutcomeYes, 150, 0.50)
		err := l.CanOpen("mkt-1", 100)
		assert.ErrorIs(t, err, ErrMarketExposure)
		assert.NoError(t, l.CanOpen("mkt-2", 100), "other markets unaffected")
	})

	t.Run("total ceiling checked before per market", func(t *testing.T) {
		l := newTestLedger(t)
		for _, m := range []string{"a", "b", "c", "d", "e"} {
			mustOpen(t, l, m, domain.OutcomeYes, 190, 0.50)
		}
		// total 950; +100 breaches the 1000 total before the 200 per-market cap.
		err := l.CanOpen("f", 100)
		assert.ErrorIs(t, err, ErrTotalExposure)
	})

	t.Run("daily loss stop rejects everything including zero size", func(t *testing.T) {
		l := newTestLedger(t)
		mustOpen(t, l, "mkt-1", domain.OutcomeYes, 200, 0.80)
		// Close at 0.30: pnl = (0.30-0.80)*200/0.80 = -125, past the -100 stop.
		pnl, ok := l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.30)
		require.True(t, ok)
		assert.InDelta(t, -125.0, pnl, 1e-9)

		assert.ErrorIs(t, l.CanOpen("mkt-2", 10), ErrDailyLossStop)
		assert.ErrorIs(t, l.CanOpen("mkt-2", 0), ErrDailyLossStop)

		_, err := l.TryOpen(ctx, "0xabc", "mkt-2", domain.OutcomeYes, domain.OrderSideBuy, 10, 0.50)
		assert.ErrorIs(t, err, ErrDailyLossStop)
	})
}

func TestCloseFIFOPerOutcome(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	first := mustOpen(t, l, "mkt-1", domain.OutcomeYes, 50, 0.40)
	mustOpen(t, l, "mkt-1", domain.OutcomeNo, 50, 0.60)
	second := mustOpen(t, l, "mkt-1", domain.OutcomeYes, 50, 0.50)
	require.NotEqual(t, first.ID, second.ID)

	// First YES close realizes the 0.40 entry, not the 0.50 one.
	pnl, ok := l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.44)
	require.True(t, ok)
	assert.InDelta(t, (0.44-0.40)*50/0.40, pnl, 1e-9)

	pnl, ok = l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.55)
	require.True(t, ok)
	assert.InDelta(t, (0.55-0.50)*50/0.50, pnl, 1e-9)

	// No YES positions left.
	_, ok = l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.50)
	assert.False(t, ok)

	// The NO position was untouched.
	snap := l.Snapshot()
	assert.Equal(t, 1, snap.OpenPositions)
	assert.InDelta(t, 50.0, snap.TotalUSD, 1e-9)
}

func TestCloseSkipsSellPositions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.TryOpen(ctx, "0xabc", "mkt-1", domain.OutcomeYes, domain.OrderSideSell, 50, 0.40)
	require.NoError(t, err)

	// Only a sell mirror is open: nothing to realize.
	_, ok := l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.44)
	assert.False(t, ok)

	// With a buy position alongside it, the close picks the buy even
	// though the sell is older.
	mustOpen(t, l, "mkt-1", domain.OutcomeYes, 50, 0.50)
	pnl, ok := l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.55)
	require.True(t, ok)
	assert.InDelta(t, (0.55-0.50)*50/0.50, pnl, 1e-9)

	// The sell position stays on the book.
	assert.Equal(t, 1, l.Snapshot().OpenPositions)
}

func TestSnapshotExposureSumInvariant(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	mustOpen(t, l, "mkt-1", domain.OutcomeYes, 120, 0.50)
	mustOpen(t, l, "mkt-2", domain.OutcomeNo, 80, 0.30)
	mustOpen(t, l, "mkt-2", domain.OutcomeYes, 40, 0.70)
	l.Close(ctx, "mkt-2", domain.OutcomeNo, 0.35)

	snap := l.Snapshot()
	var sum float64
	for _, usd := range snap.PerMarketUSD {
		sum += usd
	}
	assert.InDelta(t, snap.TotalUSD, sum, 1e-9)
	assert.Equal(t, 2, snap.OpenPositions)
}

func TestLazyDailyReset(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	now := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	mustOpen(t, l, "mkt-1", domain.OutcomeYes, 200, 0.80)
	_, ok := l.Close(ctx, "mkt-1", domain.OutcomeYes, 0.30)
	require.True(t, ok)
	require.ErrorIs(t, l.CanOpen("mkt-1", 10), ErrDailyLossStop)

	// Next UTC day: the stop clears without any explicit reset call.
	now = now.Add(6 * time.Hour)
	assert.NoError(t, l.CanOpen("mkt-1", 10))
	snap := l.Snapshot()
	assert.Zero(t, snap.DailyPnLUSD)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), snap.Day)
}

func TestShouldHedge(t *testing.T) {
	l := newTestLedger(t)

	assert.False(t, l.ShouldHedge("mkt-1"), "no exposure")

	mustOpen(t, l, "mkt-1", domain.OutcomeYes, 60, 0.50)
	mustOpen(t, l, "mkt-1", domain.OutcomeNo, 40, 0.50)
	// |60-40|/100 = 0.20, not strictly above the threshold.
	assert.False(t, l.ShouldHedge("mkt-1"))

	mustOpen(t, l, "mkt-1", domain.OutcomeYes, 30, 0.50)
	// |90-40|/130 ≈ 0.38
	assert.True(t, l.ShouldHedge("mkt-1"))

	off := NewLedger(Limits{
		MaxTotalExposureUSD: 1000,
		MaxPerMarketUSD:     500,
		MaxDailyLossUSD:     100,
		AutoHedge:           false,
		HedgeImbalance:      0.20,
	}, nil, slog.Default())
	_, err := off.TryOpen(context.Background(), "0xabc", "mkt-1", domain.OutcomeYes, domain.OrderSideBuy, 100, 0.50)
	require.NoError(t, err)
	assert.False(t, off.ShouldHedge("mkt-1"), "auto hedge disabled")
}
