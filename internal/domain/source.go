package domain

import (
	"context"
	"time"
)

// TradeProvider surfaces trades for a wallet since a watermark.
// Providers are tried in order; the first that returns events wins.
type TradeProvider interface {
	Name() string
	Trades(ctx context.Context, wallet string, since time.Time) ([]TradeEvent, error)
}

// BookSource serves orderbook snapshots by asset (token) id.
type BookSource interface {
	Book(ctx context.Context, assetID string) (OrderbookSnapshot, error)
}

// MarketSource serves market metadata.
type MarketSource interface {
	Market(ctx context.Context, id string) (Market, error)
	ActiveMarkets(ctx context.Context, limit int) ([]Market, error)
}

// TokenResolver maps an asset (token) id back to its market and outcome.
type TokenResolver interface {
	ResolveToken(ctx context.Context, tokenID string) (Market, Outcome, error)
}

// OrderSubmitter places and cancels orders at the venue.
type OrderSubmitter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}
