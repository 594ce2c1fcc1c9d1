package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// CachedBookSource serves orderbook snapshots from the cache the ws feed
// maintains, refetching over HTTP when the cached book is missing or
// older than maxAge. It implements domain.BookSource.
type CachedBookSource struct {
	cache    domain.OrderbookCache
	fallback domain.BookSource // HTTP book endpoint
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCachedBookSource builds a source over cache with an HTTP fallback.
// cache may be nil, in which case every read goes to the fallback.
func NewCachedBookSource(cache domain.OrderbookCache, fallback domain.BookSource, maxAge time.Duration, logger *slog.Logger) *CachedBookSource {
	return &CachedBookSource{
		cache:    cache,
		fallback: fallback,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "book_source")),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *CachedBookSource) SetClock(now func() time.Time) {
	s.now = now
}

// Book returns a snapshot no older than maxAge. A fresh cached book is
// served directly; otherwise the HTTP fallback is tried, and only when
// that also fails does the caller see an error. A stale cached book with
// a dead fallback reports domain.ErrStaleBook.
func (s *CachedBookSource) Book(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	var (
		cached    domain.OrderbookSnapshot
		hasCached bool
	)
	if s.cache != nil {
		snap, err := s.cache.GetSnapshot(ctx, assetID)
		switch {
		case err == nil && s.now().Sub(snap.Timestamp) <= s.maxAge:
			return snap, nil
		case err == nil:
			cached, hasCached = snap, true
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("book cache read failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()))
		}
	}

	snap, err := s.fallback.Book(ctx, assetID)
	if err == nil {
		return snap, nil
	}

	if hasCached {
		return cached, fmt.Errorf("feed: book %s is %s old and refetch failed: %w",
			assetID, s.now().Sub(cached.Timestamp).Round(time.Millisecond), domain.ErrStaleBook)
	}
	return domain.OrderbookSnapshot{}, fmt.Errorf("feed: book %s: %w", assetID, err)
}

var _ domain.BookSource = (*CachedBookSource)(nil)
