// Package feed streams the CLOB market-data WebSocket into the shared
// orderbook cache, keeping a live book per subscribed asset.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polycopy/engine/internal/domain"
	"github.com/polycopy/engine/internal/platform/polymarket"
)

// bookSink is where the feed writes. Satisfied by redis.BookCache.
type bookSink interface {
	SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error
	UpdateLevel(ctx context.Context, assetID, side string, price, size float64) error
}

// BookFeed subscribes to book and price_change for a set of assets and
// mirrors every update into the sink. It reconnects with a fixed delay
// when the connection drops.
type BookFeed struct {
	wsURL    string
	assetIDs []string
	sink     bookSink
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a feed for the given asset ids.
func New(wsURL string, assetIDs []string, sink bookSink, logger *slog.Logger) *BookFeed {
	return &BookFeed{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		sink:     sink,
		logger:   logger.With(slog.String("component", "book_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects and streams until ctx is cancelled or Close is called.
func (f *BookFeed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no assets to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			f.logger.Warn("ws feed disconnected, reconnecting", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// Close stops the feed.
func (f *BookFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection drives one WebSocket session. Cache write failures are
// logged, not fatal: the next snapshot heals the book.
func (f *BookFeed) runConnection(ctx context.Context) error {
	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBook(func(snap domain.OrderbookSnapshot) {
		if err := f.sink.SetSnapshot(ctx, snap.AssetID, snap); err != nil {
			f.logger.Warn("book cache write failed",
				slog.String("asset_id", snap.AssetID),
				slog.String("error", err.Error()))
		}
	})
	client.OnPriceChange(func(change domain.PriceChange) {
		if err := f.sink.UpdateLevel(ctx, change.AssetID, change.Side, change.Price, change.Size); err != nil {
			f.logger.Warn("book level update failed",
				slog.String("asset_id", change.AssetID),
				slog.String("error", err.Error()))
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := client.Subscribe([]string{"book", "price_change"}, f.assetIDs); err != nil {
		return err
	}
	f.logger.Info("ws feed subscribed", slog.Int("assets", len(f.assetIDs)))

	<-ctx.Done()
	return ctx.Err()
}
