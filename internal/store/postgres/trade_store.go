package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polycopy/engine/internal/domain"
)

// TradeEventStore implements domain.TradeEventStore.
type TradeEventStore struct {
	pool *pgxpool.Pool
}

// NewTradeEventStore creates a TradeEventStore on the given pool.
func NewTradeEventStore(pool *pgxpool.Pool) *TradeEventStore {
	return &TradeEventStore{pool: pool}
}

const insertEventSQL = `
	INSERT INTO trade_events
		(wallet, wallet_name, source, position_id, market_id, question,
		 outcome, side, price, size, notional_usd, tx_hash, ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (source, position_id) WHERE position_id <> '' DO NOTHING`

// InsertBatch writes events in one batched round trip. Rows that collide
// on (source, position_id) are silently skipped, so replaying a provider
// page is safe.
func (s *TradeEventStore) InsertBatch(ctx context.Context, events []domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventSQL,
			e.Wallet, e.WalletName, e.Source, e.PositionID, e.MarketID, e.Question,
			string(e.Outcome), string(e.Side), e.Price, e.Size, e.NotionalUSD,
			e.TxHash, e.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade events: %w", err)
		}
	}
	return nil
}

// LastTimestamp returns the newest event timestamp recorded for wallet,
// or the zero time when none exist. Used to seed watcher watermarks on
// restart.
func (s *TradeEventStore) LastTimestamp(ctx context.Context, wallet string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(ts) FROM trade_events WHERE wallet = $1", wallet,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last timestamp for %s: %w", wallet, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListBefore returns up to limit events older than cutoff, oldest first.
// The archiver drains events with it before DeleteBefore.
func (s *TradeEventStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeEvent, error) {
	const query = `
		SELECT wallet, wallet_name, source, position_id, market_id, question,
		       outcome, side, price, size, notional_usd, tx_hash, ts
		FROM trade_events
		WHERE ts < $1
		ORDER BY ts ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var events []domain.TradeEvent
	for rows.Next() {
		var (
			e             domain.TradeEvent
			outcome, side string
		)
		if err := rows.Scan(
			&e.Wallet, &e.WalletName, &e.Source, &e.PositionID, &e.MarketID, &e.Question,
			&outcome, &side, &e.Price, &e.Size, &e.NotionalUSD, &e.TxHash, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade event: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		e.Side = domain.OrderSide(side)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trade events rows: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events older than cutoff and reports how many
// rows went away.
func (s *TradeEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM trade_events WHERE ts < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trade events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeEventStore = (*TradeEventStore)(nil)
