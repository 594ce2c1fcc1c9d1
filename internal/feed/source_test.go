package feed

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

type memCache struct {
	snaps map[string]domain.OrderbookSnapshot
}

func (m *memCache) SetSnapshot(_ context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	m.snaps[assetID] = snap
	return nil
}

func (m *memCache) GetSnapshot(_ context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	snap, ok := m.snaps[assetID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type fakeBooks struct {
	snap  domain.OrderbookSnapshot
	err   error
	calls int
}

func (f *fakeBooks) Book(context.Context, string) (domain.OrderbookSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

func snapshotAt(ts time.Time, bestAsk float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		AssetID:   "tok-1",
		Asks:      []domain.PriceLevel{{Price: bestAsk, Size: 100}},
		BestAsk:   bestAsk,
		Timestamp: ts,
	}
}

func TestFreshCacheSkipsFallback(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := &memCache{snaps: map[string]domain.OrderbookSnapshot{
		"tok-1": snapshotAt(now.Add(-2*time.Second), 0.48),
	}}
	fallback := &fakeBooks{snap: snapshotAt(now, 0.50)}

	src := NewCachedBookSource(cache, fallback, 10*time.Second, slog.Default())
	src.SetClock(func() time.Time { return now })

	snap, err := src.Book(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.48, snap.BestAsk, 1e-9)
	assert.Zero(t, fallback.calls)
}

func TestStaleCacheRefetches(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := &memCache{snaps: map[string]domain.OrderbookSnapshot{
		"tok-1": snapshotAt(now.Add(-time.Minute), 0.48),
	}}
	fallback := &fakeBooks{snap: snapshotAt(now, 0.50)}

	src := NewCachedBookSource(cache, fallback, 10*time.Second, slog.Default())
	src.SetClock(func() time.Time { return now })

	snap, err := src.Book(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.50, snap.BestAsk, 1e-9)
	assert.Equal(t, 1, fallback.calls)
}

func TestStaleCacheDeadFallbackIsStaleBook(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := &memCache{snaps: map[string]domain.OrderbookSnapshot{
		"tok-1": snapshotAt(now.Add(-time.Minute), 0.48),
	}}
	fallback := &fakeBooks{err: errors.New("connection refused")}

	src := NewCachedBookSource(cache, fallback, 10*time.Second, slog.Default())
	src.SetClock(func() time.Time { return now })

	snap, err := src.Book(context.Background(), "tok-1")
	assert.ErrorIs(t, err, domain.ErrStaleBook)
	// The stale book is still handed back for callers that can degrade.
	assert.InDelta(t, 0.48, snap.BestAsk, 1e-9)
}

func TestMissingEverywhereReturnsFallbackError(t *testing.T) {
	cache := &memCache{snaps: map[string]domain.OrderbookSnapshot{}}
	fallback := &fakeBooks{err: domain.ErrNotFound}

	src := NewCachedBookSource(cache, fallback, 10*time.Second, slog.Default())

	_, err := src.Book(context.Background(), "tok-unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNilCacheGoesStraightToFallback(t *testing.T) {
	fallback := &fakeBooks{snap: snapshotAt(time.Now(), 0.50)}
	src := NewCachedBookSource(nil, fallback, 10*time.Second, slog.Default())

	snap, err := src.Book(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.50, snap.BestAsk, 1e-9)
	assert.Equal(t, 1, fallback.calls)
}
