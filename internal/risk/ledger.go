// Package risk tracks open exposure and enforces the pre-trade ceilings
// every copied order must pass.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polycopy/engine/internal/domain"
)

// Admission errors, in check order. Daily loss is checked first and
// rejects everything, including zero-size requests.
var (
	ErrDailyLossStop  = errors.New("risk: daily loss limit reached")
	ErrTotalExposure  = errors.New("risk: total exposure ceiling exceeded")
	ErrMarketExposure = errors.New("risk: per-market exposure ceiling exceeded")
)

// Limits are the ledger ceilings.
type Limits struct {
	MaxTotalExposureUSD float64
	MaxPerMarketUSD     float64
	MaxDailyLossUSD     float64
	AutoHedge           bool
	HedgeImbalance      float64 // YES/NO imbalance ratio above which ShouldHedge fires
}

// Ledger is the in-memory exposure book. All state transitions happen
// under one mutex so snapshots always see a consistent view.
type Ledger struct {
	limits  Limits
	journal domain.PositionJournal // optional, best-effort
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	positions map[string][]domain.Position // marketID -> open positions, oldest first
	totalUSD  float64
	perMarket map[string]float64
	dailyPnL  float64
	day       time.Time // UTC day dailyPnL belongs to
}

// NewLedger builds an empty ledger. journal may be nil.
func NewLedger(limits Limits, journal domain.PositionJournal, logger *slog.Logger) *Ledger {
	return &Ledger{
		limits:    limits,
		journal:   journal,
		logger:    logger.With(slog.String("component", "risk_ledger")),
		now:       time.Now,
		positions: make(map[string][]domain.Position),
		perMarket: make(map[string]float64),
		day:       time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// SetClock overrides the time source. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.day = now().UTC().Truncate(24 * time.Hour)
}

// Restore reloads open positions from the journal, typically at startup.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	open, err := l.journal.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("risk: restore positions: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range open {
		l.positions[pos.MarketID] = append(l.positions[pos.MarketID], pos)
		l.totalUSD += pos.SizeUSD
		l.perMarket[pos.MarketID] += pos.SizeUSD
	}
	l.logger.Info("ledger restored",
		slog.Int("positions", len(open)),
		slog.Float64("total_usd", l.totalUSD))
	return nil
}

// CanOpen reports whether a new position of sizeUSD in marketID would be
// admitted. Returns nil when admitted, or the first failing check.
func (l *Ledger) CanOpen(marketID string, sizeUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canOpenLocked(marketID, sizeUSD)
}

func (l *Ledger) canOpenLocked(marketID string, sizeUSD float64) error {
	l.rollDayLocked()

	if l.dailyPnL <= -l.limits.MaxDailyLossUSD {
		return ErrDailyLossStop
	}
	if l.totalUSD+sizeUSD > l.limits.MaxTotalExposureUSD {
		return ErrTotalExposure
	}
	if l.perMarket[marketID]+sizeUSD > l.limits.MaxPerMarketUSD {
		return ErrMarketExposure
	}
	return nil
}

// TryOpen runs the admission checks and, when they pass, opens the
// position in the same critical section. No other open or close can
// interleave between the check and the book update.
func (l *Ledger) TryOpen(ctx context.Context, wallet, marketID string, outcome domain.Outcome, side domain.OrderSide, sizeUSD, entryPrice float64) (domain.Position, error) {
	l.mu.Lock()
	if err := l.canOpenLocked(marketID, sizeUSD); err != nil {
		l.mu.Unlock()
		return domain.Position{}, err
	}

	pos := domain.Position{
		ID:         uuid.NewString(),
		Wallet:     wallet,
		MarketID:   marketID,
		Outcome:    outcome,
		Side:       side,
		SizeUSD:    sizeUSD,
		EntryPrice: entryPrice,
		OpenedAt:   l.now(),
	}
	l.positions[marketID] = append(l.positions[marketID], pos)
	l.totalUSD += sizeUSD
	l.perMarket[marketID] += sizeUSD
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.RecordOpen(ctx, pos); err != nil {
			l.logger.WarnContext(ctx, "journal open failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
	}
	return pos, nil
}

// Close realizes the oldest open buy-side position for (marketID,
// outcome) at exitPrice and returns the realized PnL. Sell-side mirrors
// are not matched; their PnL does not follow the long formula. Returns
// false when no open position matches.
func (l *Ledger) Close(ctx context.Context, marketID string, outcome domain.Outcome, exitPrice float64) (float64, bool) {
	l.mu.Lock()
	l.rollDayLocked()

	open := l.positions[marketID]
	idx := -1
	for i, pos := range open {
		if pos.Outcome == outcome && pos.Side == domain.OrderSideBuy {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return 0, false
	}

	pos := open[idx]
	l.positions[marketID] = append(open[:idx], open[idx+1:]...)
	if len(l.positions[marketID]) == 0 {
		delete(l.positions, marketID)
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.SizeUSD / pos.EntryPrice
	l.totalUSD -= pos.SizeUSD
	l.perMarket[marketID] -= pos.SizeUSD
	if l.perMarket[marketID] <= 0 {
		delete(l.perMarket, marketID)
	}
	l.dailyPnL += pnl
	daily := l.dailyPnL
	tripped := daily <= -l.limits.MaxDailyLossUSD
	l.mu.Unlock()

	if tripped {
		l.logger.WarnContext(ctx, "daily loss stop reached",
			slog.Float64("daily_pnl_usd", daily),
			slog.Float64("limit_usd", l.limits.MaxDailyLossUSD))
	}

	if l.journal != nil {
		closed := domain.ClosedPosition{
			Position:  pos,
			ExitPrice: exitPrice,
			PnLUSD:    pnl,
			ClosedAt:  l.now(),
		}
		if err := l.journal.RecordClose(ctx, closed); err != nil {
			l.logger.WarnContext(ctx, "journal close failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
	}
	return pnl, true
}

// ShouldHedge reports whether the YES/NO exposure in marketID is
// imbalanced past the configured ratio. Always false when auto-hedge is
// off or fewer than two positions are open in the market.
func (l *Ledger) ShouldHedge(marketID string) bool {
	if !l.limits.AutoHedge {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.positions[marketID]) < 2 {
		return false
	}
	var yesUSD, noUSD float64
	for _, pos := range l.positions[marketID] {
		switch pos.Outcome {
		case domain.OutcomeYes:
			yesUSD += pos.SizeUSD
		case domain.OutcomeNo:
			noUSD += pos.SizeUSD
		}
	}
	total := yesUSD + noUSD
	if total == 0 {
		return false
	}
	return math.Abs(yesUSD-noUSD)/total > l.limits.HedgeImbalance
}

// Snapshot returns a consistent copy of the ledger state.
func (l *Ledger) Snapshot() domain.ExposureSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()

	perMarket := make(map[string]float64, len(l.perMarket))
	count := 0
	for m, usd := range l.perMarket {
		perMarket[m] = usd
	}
	for _, open := range l.positions {
		count += len(open)
	}
	return domain.ExposureSnapshot{
		TotalUSD:      l.totalUSD,
		PerMarketUSD:  perMarket,
		DailyPnLUSD:   l.dailyPnL,
		OpenPositions: count,
		Day:           l.day,
	}
}

// rollDayLocked resets the daily PnL when the UTC day has changed since
// it was last touched. Callers must hold l.mu.
func (l *Ledger) rollDayLocked() {
	today := l.now().UTC().Truncate(24 * time.Hour)
	if today.After(l.day) {
		l.logger.Info("daily pnl reset",
			slog.String("day", today.Format("2006-01-02")),
			slog.Float64("previous_pnl_usd", l.dailyPnL))
		l.dailyPnL = 0
		l.day = today
	}
}
