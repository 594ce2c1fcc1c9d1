package domain

import "time"

// ArbitrageOpportunity is a priced YES+NO buy-both opportunity on a
// single market. Cost is fee-adjusted; ProfitPct is profit per dollar
// of fee-adjusted cost.
type ArbitrageOpportunity struct {
	MarketID    string
	Question    string
	YesAsk      float64
	NoAsk       float64
	RawCost     float64 // YesAsk + NoAsk
	Cost        float64 // RawCost with the taker fee applied
	ProfitPct   float64 // (1 - Cost) / Cost
	YesDepthUSD float64 // price * size at the best YES ask
	NoDepthUSD  float64 // price * size at the best NO ask
	DetectedAt  time.Time
}

// Age reports how long ago the opportunity was priced.
func (o ArbitrageOpportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}
