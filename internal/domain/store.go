package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeEventStore persists normalized trade events from watched wallets.
type TradeEventStore interface {
	InsertBatch(ctx context.Context, events []TradeEvent) error
	LastTimestamp(ctx context.Context, wallet string) (time.Time, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PositionJournal persists ledger position opens and closes.
type PositionJournal interface {
	RecordOpen(ctx context.Context, pos Position) error
	RecordClose(ctx context.Context, closed ClosedPosition) error
	ListOpen(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
