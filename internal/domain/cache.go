package domain

import (
	"context"
	"time"
)

// OrderbookCache stores live orderbook snapshots fed by the ws feed.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, assetID string, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, assetID string) (OrderbookSnapshot, error)
}

// RateLimiter provides distributed rate limiting for venue API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
