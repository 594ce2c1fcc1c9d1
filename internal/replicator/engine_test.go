package replicator

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/engine/internal/arb"
	"github.com/polycopy/engine/internal/domain"
	"github.com/polycopy/engine/internal/gateway"
	"github.com/polycopy/engine/internal/risk"
)

const sourceWallet = "0xAAaa111111111111111111111111111111111111"

type fakeSubmitter struct {
	placed     []domain.OrderRequest
	cancelled  []string
	nextID     int
	failTokens map[string]bool
}

func (f *fakeSubmitter) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if f.failTokens[req.TokenID] {
		return domain.OrderResult{Success: false, Message: "no liquidity"}, nil
	}
	f.placed = append(f.placed, req)
	f.nextID++
	return domain.OrderResult{Success: true, OrderID: fmt.Sprintf("ord-%d", f.nextID)}, nil
}

func (f *fakeSubmitter) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type staticMarkets struct{ market domain.Market }

func (s *staticMarkets) Market(_ context.Context, id string) (domain.Market, error) {
	if id != s.market.ID {
		return domain.Market{}, domain.ErrNotFound
	}
	return s.market, nil
}

func (s *staticMarkets) ActiveMarkets(context.Context, int) ([]domain.Market, error) {
	return []domain.Market{s.market}, nil
}

type fixture struct {
	engine *Engine
	sub    *fakeSubmitter
	opps   *arb.Cache
	ledger *risk.Ledger
	gw     *gateway.Gateway
}

func newFixture(t *testing.T, wallet domain.WatchedWallet, limits risk.Limits) *fixture {
	t.Helper()
	sub := &fakeSubmitter{failTokens: map[string]bool{}}
	gw := gateway.New(sub, slog.Default())
	ledger := risk.NewLedger(limits, nil, slog.Default())
	opps := arb.NewCache(15 * time.Second)
	markets := &staticMarkets{market: domain.Market{
		ID:       "mkt-1",
		Question: "Will it rain tomorrow?",
		TokenIDs: [2]string{"tok-yes", "tok-no"},
		Status:   domain.MarketStatusActive,
	}}

	engine := New(
		[]domain.WatchedWallet{wallet},
		make(chan domain.TradeEvent),
		opps, ledger, gw, markets, nil,
		Options{MinOrderUSD: 10},
		slog.Default(),
	)
	return &fixture{engine: engine, sub: sub, opps: opps, ledger: ledger, gw: gw}
}

func defaultWallet() domain.WatchedWallet {
	return domain.WatchedWallet{
		Address:    sourceWallet,
		Name:       "whale",
		Enabled:    true,
		SizeScale:  0.01,
		MaxCopyUSD: 2000,
	}
}

func bigLimits() risk.Limits {
	return risk.Limits{
		MaxTotalExposureUSD: 100_000,
		MaxPerMarketUSD:     50_000,
		MaxDailyLossUSD:     10_000,
		AutoHedge:           true,
		HedgeImbalance:      0.20,
	}
}

func observedTrade(notional float64) domain.TradeEvent {
	return domain.TradeEvent{
		Wallet:      sourceWallet,
		WalletName:  "whale",
		MarketID:    "mkt-1",
		Outcome:     domain.OutcomeYes,
		Side:        domain.OrderSideBuy,
		Price:       0.50,
		Size:        notional / 0.50,
		NotionalUSD: notional,
		TxHash:      "0xtx1",
		Timestamp:   time.Now(),
	}
}

func liveOpportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		MarketID:   "mkt-1",
		YesAsk:     0.48,
		NoAsk:      0.49,
		RawCost:    0.97,
		Cost:       0.97 * 1.01,
		ProfitPct:  0.0207,
		DetectedAt: time.Now(),
	}
}

func TestDirectionalSizing(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())
	ctx := context.Background()

	// $50,000 observed * 0.01 = $500, under the $2000 cap.
	res := f.engine.Process(ctx, observedTrade(50_000))
	require.Equal(t, OutcomeCopied, res.Outcome, res.Reason)

	require.Len(t, f.sub.placed, 1)
	req := f.sub.placed[0]
	assert.Equal(t, "tok-yes", req.TokenID)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.InDelta(t, 0.50, req.Price, 1e-9)
	assert.InDelta(t, 1000.0, req.Size, 1e-9) // $500 / 0.50

	snap := f.ledger.Snapshot()
	assert.Equal(t, 1, snap.OpenPositions)
	assert.InDelta(t, 500.0, snap.TotalUSD, 1e-9)
}

func TestSizingBelowFloorIsNothingToDo(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())

	// $500 observed * 0.01 = $5, under the $10 floor.
	res := f.engine.Process(context.Background(), observedTrade(500))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, f.sub.placed)
	assert.Zero(t, f.ledger.Snapshot().OpenPositions)
}

func TestSizingCappedAtWalletMax(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())

	res := f.engine.Process(context.Background(), observedTrade(300_000)) // 0.01 -> $3000, capped $2000
	require.Equal(t, OutcomeCopied, res.Outcome)
	assert.InDelta(t, 2000.0, f.ledger.Snapshot().TotalUSD, 1e-9)
}

func TestCopiedDedupOnlyMarksSuccess(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())
	ctx := context.Background()

	ev := observedTrade(50_000)
	require.Equal(t, OutcomeCopied, f.engine.Process(ctx, ev).Outcome)

	res := f.engine.Process(ctx, ev)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "already copied", res.Reason)
	assert.Len(t, f.sub.placed, 1)

	// A failed event is not marked: the same key may be retried.
	f2 := newFixture(t, defaultWallet(), bigLimits())
	f2.sub.failTokens["tok-yes"] = true
	ev2 := observedTrade(50_000)
	require.Equal(t, OutcomeFailed, f2.engine.Process(ctx, ev2).Outcome)

	f2.sub.failTokens["tok-yes"] = false
	assert.Equal(t, OutcomeCopied, f2.engine.Process(ctx, ev2).Outcome)
}

func TestEligibilityFilters(t *testing.T) {
	ctx := context.Background()

	disabled := defaultWallet()
	disabled.Enabled = false
	f := newFixture(t, disabled, bigLimits())
	assert.Equal(t, OutcomeSkipped, f.engine.Process(ctx, observedTrade(50_000)).Outcome)

	restricted := defaultWallet()
	restricted.Markets = []string{"mkt-other"}
	f = newFixture(t, restricted, bigLimits())
	res := f.engine.Process(ctx, observedTrade(50_000))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "market not in allow-list", res.Reason)

	unknown := observedTrade(50_000)
	unknown.Wallet = "0xBBbb111111111111111111111111111111111111"
	f = newFixture(t, defaultWallet(), bigLimits())
	assert.Equal(t, OutcomeSkipped, f.engine.Process(ctx, unknown).Outcome)
}

func TestArbitrageGate(t *testing.T) {
	wallet := defaultWallet()
	wallet.RequireOpportunity = true
	f := newFixture(t, wallet, bigLimits())
	ctx := context.Background()

	res := f.engine.Process(ctx, observedTrade(50_000))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "no live arbitrage signal", res.Reason)

	f.opps.Put(liveOpportunity())
	res = f.engine.Process(ctx, observedTrade(50_000))
	require.Equal(t, OutcomeCopied, res.Outcome, res.Reason)
	assert.Equal(t, "hedged pair", res.Reason)
}

func TestRiskGateSkips(t *testing.T) {
	limits := bigLimits()
	limits.MaxPerMarketUSD = 100 // below the $500 sized order
	f := newFixture(t, defaultWallet(), limits)

	res := f.engine.Process(context.Background(), observedTrade(50_000))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, f.sub.placed)
}

func TestHedgedPairSplitsFiftyFifty(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())
	f.opps.Put(liveOpportunity())
	ctx := context.Background()

	res := f.engine.Process(ctx, observedTrade(50_000)) // $500 sized
	require.Equal(t, OutcomeCopied, res.Outcome, res.Reason)

	require.Len(t, f.sub.placed, 2)
	yes, no := f.sub.placed[0], f.sub.placed[1]
	assert.Equal(t, domain.OutcomeYes, yes.Outcome)
	assert.InDelta(t, 0.48, yes.Price, 1e-9)
	assert.InDelta(t, 250.0/0.48, yes.Size, 1e-9)
	assert.Equal(t, domain.OutcomeNo, no.Outcome)
	assert.InDelta(t, 0.49, no.Price, 1e-9)
	assert.InDelta(t, 250.0/0.49, no.Size, 1e-9)

	snap := f.ledger.Snapshot()
	assert.Equal(t, 2, snap.OpenPositions)
	assert.InDelta(t, 500.0, snap.TotalUSD, 1e-9)
	assert.InDelta(t, 500.0, snap.PerMarketUSD["mkt-1"], 1e-9)
}

func TestHedgedPartialFailureUnwinds(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())
	f.opps.Put(liveOpportunity())
	f.sub.failTokens["tok-no"] = true
	ctx := context.Background()

	res := f.engine.Process(ctx, observedTrade(50_000))
	require.Equal(t, OutcomeFailed, res.Outcome)

	// The YES order went out, then was compensated.
	require.Len(t, f.sub.placed, 1)
	require.Len(t, f.sub.cancelled, 1)
	assert.Equal(t, "ord-1", f.sub.cancelled[0])
	order, ok := f.gw.Order("ord-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)

	// No naked leg: the ledger never saw the action.
	snap := f.ledger.Snapshot()
	assert.Zero(t, snap.OpenPositions)
	assert.Zero(t, snap.TotalUSD)
}

func TestHedgedYesLegFailureStopsPair(t *testing.T) {
	f := newFixture(t, defaultWallet(), bigLimits())
	f.opps.Put(liveOpportunity())
	f.sub.failTokens["tok-yes"] = true

	res := f.engine.Process(context.Background(), observedTrade(50_000))
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, f.sub.placed)
	assert.Empty(t, f.sub.cancelled, "nothing to compensate")
	assert.Zero(t, f.ledger.Snapshot().OpenPositions)
}
