package domain

import "time"

// Position is an open exposure entry tracked by the ledger.
type Position struct {
	ID         string
	Wallet     string // source wallet this position copies, empty for hedge legs
	MarketID   string
	Outcome    Outcome
	Side       OrderSide
	SizeUSD    float64
	EntryPrice float64
	OpenedAt   time.Time
}

// ClosedPosition is a position after realization, with its PnL.
type ClosedPosition struct {
	Position
	ExitPrice float64
	PnLUSD    float64
	ClosedAt  time.Time
}

// ExposureSnapshot is a point-in-time view of the ledger.
type ExposureSnapshot struct {
	TotalUSD      float64
	PerMarketUSD  map[string]float64
	DailyPnLUSD   float64
	OpenPositions int
	Day           time.Time // UTC day the daily PnL belongs to
}
