package domain

import (
	"strings"
	"time"
)

// WatchedWallet is the copy configuration for a single source wallet.
type WatchedWallet struct {
	Address            string
	Name               string
	Enabled            bool
	MinWinRate         float64  // historical win-rate the wallet was selected on
	SizeScale          float64  // fraction of the source notional to copy
	MaxCopyUSD         float64  // per-trade cap after scaling, 0 = uncapped
	Markets            []string // optional market allow-list
	RequireOpportunity bool     // copy only when an arbitrage signal is live
}

// AllowsMarket reports whether the wallet config permits copying the
// given market. An empty allow-list permits every market.
func (w WatchedWallet) AllowsMarket(marketID string) bool {
	if len(w.Markets) == 0 {
		return true
	}
	for _, m := range w.Markets {
		if strings.EqualFold(m, marketID) {
			return true
		}
	}
	return false
}

// WalletStats accumulates per-wallet observation counters.
type WalletStats struct {
	TradesSeen  int64
	Duplicates  int64
	VolumeUSD   float64
	LastTradeAt time.Time
	Watermark   time.Time
}
