package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polycopy/engine/internal/domain"
)

// PositionJournal implements domain.PositionJournal. The ledger is the
// source of truth in memory; this journal lets it survive restarts.
type PositionJournal struct {
	pool *pgxpool.Pool
}

// NewPositionJournal creates a PositionJournal on the given pool.
func NewPositionJournal(pool *pgxpool.Pool) *PositionJournal {
	return &PositionJournal{pool: pool}
}

// RecordOpen persists a freshly opened position. Replaying the same id
// updates the row, which keeps crash-retry loops idempotent.
func (j *PositionJournal) RecordOpen(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (id, wallet, market_id, outcome, side, size_usd, entry_price, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			size_usd = EXCLUDED.size_usd,
			entry_price = EXCLUDED.entry_price`

	_, err := j.pool.Exec(ctx, query,
		pos.ID, pos.Wallet, pos.MarketID, string(pos.Outcome), string(pos.Side),
		pos.SizeUSD, pos.EntryPrice, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record open position %s: %w", pos.ID, err)
	}
	return nil
}

// RecordClose marks a position closed with its exit price and realized
// PnL. Closing an unknown id is an error.
func (j *PositionJournal) RecordClose(ctx context.Context, closed domain.ClosedPosition) error {
	const query = `
		UPDATE positions
		SET exit_price = $2, pnl_usd = $3, closed_at = $4
		WHERE id = $1`

	tag, err := j.pool.Exec(ctx, query,
		closed.ID, closed.ExitPrice, closed.PnLUSD, closed.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record close position %s: %w", closed.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: record close position %s: %w", closed.ID, domain.ErrNotFound)
	}
	return nil
}

// ListOpen returns every position not yet closed, oldest first, for
// ledger restore at startup.
func (j *PositionJournal) ListOpen(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT id, wallet, market_id, outcome, side, size_usd, entry_price, opened_at
		FROM positions
		WHERE closed_at IS NULL
		ORDER BY opened_at ASC`

	rows, err := j.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			p             domain.Position
			outcome, side string
		)
		if err := rows.Scan(&p.ID, &p.Wallet, &p.MarketID, &outcome, &side,
			&p.SizeUSD, &p.EntryPrice, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		p.Side = domain.OrderSide(side)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return positions, nil
}

var _ domain.PositionJournal = (*PositionJournal)(nil)
