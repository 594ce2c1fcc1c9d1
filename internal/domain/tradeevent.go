package domain

import (
	"fmt"
	"time"
)

// TradeEvent is a normalized trade observed on a watched wallet,
// regardless of which provider surfaced it.
type TradeEvent struct {
	Wallet      string
	WalletName  string
	Source      string // provider that surfaced the event
	PositionID  string // venue position/fill id, empty when the provider has none
	MarketID    string
	Question    string
	Outcome     Outcome
	Side        OrderSide
	Price       float64
	Size        float64 // shares
	NotionalUSD float64
	TxHash      string
	Timestamp   time.Time
}

// PositionKey identifies the event by venue position id.
// Empty when the provider did not supply one.
func (e TradeEvent) PositionKey() string {
	if e.PositionID == "" {
		return ""
	}
	return fmt.Sprintf("%s|%s", e.Wallet, e.PositionID)
}

// CopyKey identifies the event for replication dedup: transaction id
// plus the market/outcome/side triple. A retried fill with a new tx id
// gets a fresh key.
func (e TradeEvent) CopyKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.TxHash, e.MarketID, e.Outcome, e.Side)
}

// FallbackKey identifies the event by wallet, market, outcome and side.
// Two events with the same FallbackKey within the fallback window are
// treated as the same trade seen through different providers.
func (e TradeEvent) FallbackKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.Wallet, e.MarketID, e.Outcome, e.Side)
}
