package markets

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/engine/internal/domain"
)

type fakeGamma struct {
	active       []domain.Market
	byID         map[string]domain.Market
	byCondition  map[string]domain.Market
	activeCalls  int
	marketCalls  int
}

func (f *fakeGamma) GetActiveMarkets(_ context.Context, limit int) ([]domain.Market, error) {
	f.activeCalls++
	if limit < len(f.active) {
		return f.active[:limit], nil
	}
	return f.active, nil
}

func (f *fakeGamma) GetMarket(_ context.Context, id string) (domain.Market, error) {
	f.marketCalls++
	if m, ok := f.byID[id]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeGamma) GetMarketByCondition(_ context.Context, conditionID string) (domain.Market, error) {
	f.marketCalls++
	if m, ok := f.byCondition[conditionID]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func market(id, condition, yesToken, noToken string, volume float64) domain.Market {
	return domain.Market{
		ID:          id,
		Question:    "Question " + id,
		ConditionID: condition,
		TokenIDs:    [2]string{yesToken, noToken},
		Volume:      volume,
		Status:      domain.MarketStatusActive,
	}
}

func newTestCatalog(gamma *fakeGamma) *Catalog {
	return New(gamma, Options{MaxMarkets: 10, RefreshInterval: time.Minute}, slog.Default())
}

func TestRefreshIndexesMarkets(t *testing.T) {
	gamma := &fakeGamma{active: []domain.Market{
		market("1", "0xaa", "tok-1y", "tok-1n", 5000),
		market("2", "0xbb", "tok-2y", "tok-2n", 3000),
	}}
	cat := newTestCatalog(gamma)
	ctx := context.Background()

	require.NoError(t, cat.Refresh(ctx))
	assert.Equal(t, 2, cat.Size())

	m, err := cat.Market(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "0xaa", m.ConditionID)

	// Condition-id lookup hits the same entry without an API call.
	before := gamma.marketCalls
	m, err = cat.Market(ctx, "0xbb")
	require.NoError(t, err)
	assert.Equal(t, "2", m.ID)
	assert.Equal(t, before, gamma.marketCalls)
}

func TestResolveToken(t *testing.T) {
	gamma := &fakeGamma{active: []domain.Market{
		market("1", "0xaa", "tok-1y", "tok-1n", 5000),
	}}
	cat := newTestCatalog(gamma)
	ctx := context.Background()
	require.NoError(t, cat.Refresh(ctx))

	m, outcome, err := cat.ResolveToken(ctx, "tok-1y")
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)
	assert.Equal(t, domain.OutcomeYes, outcome)

	_, outcome, err = cat.ResolveToken(ctx, "tok-1n")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, outcome)

	_, _, err = cat.ResolveToken(ctx, "tok-unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketMissFallsThrough(t *testing.T) {
	gamma := &fakeGamma{
		byID:        map[string]domain.Market{"9": market("9", "0xcc", "tok-9y", "tok-9n", 100)},
		byCondition: map[string]domain.Market{"0xcc": market("9", "0xcc", "tok-9y", "tok-9n", 100)},
	}
	cat := newTestCatalog(gamma)
	ctx := context.Background()

	m, err := cat.Market(ctx, "0xcc")
	require.NoError(t, err)
	assert.Equal(t, "9", m.ID)
	assert.Equal(t, 1, gamma.marketCalls)

	// Cached now, both by id and token.
	_, err = cat.Market(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, 1, gamma.marketCalls)

	_, outcome, err := cat.ResolveToken(ctx, "tok-9y")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, outcome)
}

func TestActiveMarketsHonorsLimit(t *testing.T) {
	gamma := &fakeGamma{active: []domain.Market{
		market("1", "0xaa", "t1y", "t1n", 5000),
		market("2", "0xbb", "t2y", "t2n", 3000),
		market("3", "0xcc", "t3y", "t3n", 1000),
	}}
	cat := newTestCatalog(gamma)
	require.NoError(t, cat.Refresh(context.Background()))

	out, err := cat.ActiveMarkets(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "2", out[1].ID)
}
