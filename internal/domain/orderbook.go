package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for an asset.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// PriceChange is an incremental orderbook level update.
type PriceChange struct {
	AssetID   string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64 // 0 means remove level
	Timestamp time.Time
}

// BestAskDepthUSD is the dollar depth available at the top ask level.
func (s OrderbookSnapshot) BestAskDepthUSD() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price * s.Asks[0].Size
}
