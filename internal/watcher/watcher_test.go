package watcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/engine/internal/domain"
)

type scriptedProvider struct {
	name   string
	err    error
	trades []domain.TradeEvent
	calls  []time.Time // since values observed
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Trades(_ context.Context, _ string, since time.Time) ([]domain.TradeEvent, error) {
	p.calls = append(p.calls, since)
	if p.err != nil {
		return nil, p.err
	}
	var out []domain.TradeEvent
	for _, tr := range p.trades {
		if !tr.Timestamp.Before(since) {
			out = append(out, tr)
		}
	}
	return out, nil
}

const walletAddr = "0x1111111111111111111111111111111111111111"

func watchedWallet() domain.WatchedWallet {
	return domain.WatchedWallet{
		Address:   walletAddr,
		Name:      "whale",
		Enabled:   true,
		SizeScale: 0.05,
	}
}

func event(posID string, ts time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		PositionID:  posID,
		MarketID:    "mkt-1",
		Outcome:     domain.OutcomeYes,
		Side:        domain.OrderSideBuy,
		Price:       0.48,
		Size:        1000,
		NotionalUSD: 480,
		Timestamp:   ts,
	}
}

func newTestWatcher(providers ...domain.TradeProvider) *Watcher {
	out := make(chan domain.TradeEvent, 64)
	return New([]domain.WatchedWallet{watchedWallet()}, providers, nil, out, Options{
		PollInterval:   10 * time.Second,
		FallbackWindow: 5 * time.Second,
		DedupTTL:       24 * time.Hour,
	}, slog.Default())
}

func TestPollWalletPositionIDDedup(t *testing.T) {
	ts := time.Now().Add(-time.Minute)
	p := &scriptedProvider{name: "positions", trades: []domain.TradeEvent{event("pos-1", ts)}}
	w := newTestWatcher(p)
	ctx := context.Background()

	fresh, err := w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, walletAddr, fresh[0].Wallet)
	assert.Equal(t, "whale", fresh[0].WalletName)
	assert.Equal(t, "positions", fresh[0].Source)

	// Same position id on the next poll is suppressed even though the
	// watermark makes the provider return it again (>= semantics).
	fresh, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	stats := w.Stats()[walletAddr]
	assert.Equal(t, int64(2), stats.TradesSeen)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.InDelta(t, 480.0, stats.VolumeUSD, 1e-9)
	assert.Equal(t, ts, stats.Watermark)
}

func TestPollWalletFallbackWindowDedup(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	p := &scriptedProvider{name: "activity", trades: []domain.TradeEvent{event("", base)}}
	w := newTestWatcher(p)
	ctx := context.Background()

	fresh, err := w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	// Same trade resurfaces without an id, timestamped 1s off: duplicate.
	p.trades = []domain.TradeEvent{event("", base.Add(time.Second))}
	fresh, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	// Past the 5s tolerance the same shape is a genuinely new trade.
	p.trades = []domain.TradeEvent{event("", base.Add(8 * time.Second))}
	fresh, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestPollWalletFallbackKeepsDistinctTrades(t *testing.T) {
	// Catch-up poll: two id-less trades with the same shape, 30s apart,
	// arrive in one page. Both are real trades.
	base := time.Now().Add(-time.Minute)
	p := &scriptedProvider{name: "activity", trades: []domain.TradeEvent{
		event("", base),
		event("", base.Add(30*time.Second)),
	}}
	w := newTestWatcher(p)

	fresh, err := w.PollWallet(context.Background(), walletAddr)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestPollWalletFallbackDuplicateSurvivesSlowPoll(t *testing.T) {
	// The duplicate shows up a full poll interval later in wall-clock
	// terms; its event timestamp still matches the original.
	base := time.Now().Add(-time.Minute)
	p := &scriptedProvider{name: "activity", trades: []domain.TradeEvent{event("", base)}}
	w := newTestWatcher(p)
	ctx := context.Background()

	fresh, err := w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	w.recentTrades.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	fresh, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestPollWalletIDClaimsFallbackKey(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	p := &scriptedProvider{name: "positions", trades: []domain.TradeEvent{event("pos-1", base)}}
	w := newTestWatcher(p)
	ctx := context.Background()

	fresh, err := w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	// Another provider reports the same fill without an id inside the
	// window: the fallback layer catches it.
	p.trades = []domain.TradeEvent{event("", base.Add(time.Second))}
	fresh, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestFetchProviderFallbackChain(t *testing.T) {
	ts := time.Now().Add(-time.Minute)
	broken := &scriptedProvider{name: "positions", err: errors.New("http 503")}
	chain := &scriptedProvider{name: "chain", trades: []domain.TradeEvent{event("fill-9", ts)}}
	w := newTestWatcher(broken, chain)

	fresh, err := w.PollWallet(context.Background(), walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "chain", fresh[0].Source)
	assert.Len(t, broken.calls, 1, "primary tried first")
}

func TestPollWalletAllProvidersFailed(t *testing.T) {
	w := newTestWatcher(
		&scriptedProvider{name: "a", err: errors.New("down")},
		&scriptedProvider{name: "b", err: errors.New("also down")},
	)
	_, err := w.PollWallet(context.Background(), walletAddr)
	require.Error(t, err)
}

func TestPollWalletUnknownWallet(t *testing.T) {
	w := newTestWatcher(&scriptedProvider{name: "a"})
	_, err := w.PollWallet(context.Background(), "0x2222222222222222222222222222222222222222")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWatermarkAdvancesPerEvent(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	p := &scriptedProvider{name: "positions", trades: []domain.TradeEvent{
		event("pos-1", base),
		event("pos-2", base.Add(10*time.Second)),
	}}
	w := newTestWatcher(p)
	ctx := context.Background()

	fresh, err := w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 2)

	// Second poll starts from the newest emitted timestamp.
	_, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, p.calls, 2)
	assert.True(t, p.calls[0].IsZero())
	assert.Equal(t, base.Add(10*time.Second), p.calls[1])
}

func TestWatermarkIgnoresSuppressedEvents(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	p := &scriptedProvider{name: "positions", trades: []domain.TradeEvent{event("pos-1", base)}}
	w := newTestWatcher(p)
	ctx := context.Background()

	fresh, err := w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	// The same fill resurfaces through a laggy indexer with a skewed
	// timestamp. It is suppressed by id and must not drag the watermark
	// past trades that have not been seen yet.
	p.trades = []domain.TradeEvent{event("pos-1", base.Add(30*time.Second))}
	fresh, err = w.PollWallet(ctx, walletAddr)
	require.NoError(t, err)
	require.Empty(t, fresh)
	assert.Equal(t, base, w.Stats()[walletAddr].Watermark)
}
