package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma
// API responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Gamma API. Token ids and
// outcomes arrive either as a tokens array or as JSON-encoded strings,
// depending on the endpoint.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	Slug          string   `json:"slug"`
	ActiveFromAPI flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`       // JSON-encoded, e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`   // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
	Volume        string   `json:"volume"`
	NegRisk       bool     `json:"neg_risk"`
	EndDateISO    string   `json:"end_date_iso"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Token is a token entry inside the Gamma market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Token ids
// are taken from the tokens array when present, otherwise from the
// JSON-encoded clobTokenIds string.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
		Outcomes:    [2]string{"Yes", "No"},
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.ActiveFromAPI) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}

	if len(m.Tokens) > 0 {
		for i, tok := range m.Tokens {
			if i >= 2 {
				break
			}
			dm.TokenIDs[i] = tok.TokenID
			if tok.Outcome != "" {
				dm.Outcomes[i] = tok.Outcome
			}
		}
	} else if m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil {
			for i := 0; i < len(ids) && i < 2; i++ {
				dm.TokenIDs[i] = ids[i]
			}
		}
		var outs []string
		if err := json.Unmarshal([]byte(m.Outcomes), &outs); err == nil {
			for i := 0; i < len(outs) && i < 2; i++ {
				dm.Outcomes[i] = outs[i]
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ClosedAt = &t
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order on the CLOB.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
	}
}

// APIBook is the orderbook returned by GET /book. The same shape arrives
// over the WebSocket "book" channel.
type APIBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// APIPriceLevel is one price level with string-encoded numbers.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ToDomainSnapshot converts an APIBook into a domain.OrderbookSnapshot.
// Bids are sorted best (highest) first and asks best (lowest) first, so
// index 0 of either slice is the top of book.
func (b *APIBook) ToDomainSnapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{AssetID: b.AssetID}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
	}

	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })

	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	snap.Timestamp = parseFlexTime(b.Timestamp)
	return snap
}

// PriceChangeMessage is an incremental price-level update from the
// WebSocket "price_change" channel.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// ToDomain converts a PriceChangeMessage to a domain.PriceChange.
func (p *PriceChangeMessage) ToDomain() domain.PriceChange {
	pc := domain.PriceChange{
		AssetID: p.AssetID,
		Side:    p.Side,
	}
	pc.Price, _ = strconv.ParseFloat(p.Price, 64)
	pc.Size, _ = strconv.ParseFloat(p.Size, 64)
	pc.Timestamp = parseFlexTime(p.Timestamp)
	return pc
}

// WSCommand is the JSON payload sent to subscribe or unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APITrade is a fill as returned by the data API /trades endpoint.
type APITrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // "BUY" or "SELL"
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	TransactionHash string  `json:"transactionHash"`
}

// ToDomainTradeEvent converts an APITrade into a normalized trade event.
// The fill id combines the transaction hash and asset, which is stable
// across repeated polls of the same fill.
func (t *APITrade) ToDomainTradeEvent() domain.TradeEvent {
	ev := domain.TradeEvent{
		Wallet:      t.ProxyWallet,
		PositionID:  t.TransactionHash + "-" + t.Asset,
		MarketID:    t.ConditionID,
		Question:    t.Title,
		Outcome:     outcomeFromIndex(t.OutcomeIndex),
		Side:        sideFromAPI(t.Side),
		Price:       t.Price,
		Size:        t.Size,
		NotionalUSD: t.Price * t.Size,
		TxHash:      t.TransactionHash,
		Timestamp:   time.Unix(t.Timestamp, 0).UTC(),
	}
	return ev
}

// APIActivity is an entry from the data API /activity endpoint. Unlike
// /trades it carries no stable fill id.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // only "TRADE" entries are copied
	Size            float64 `json:"size"`
	USDCSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
}

// ToDomainTradeEvent converts an APIActivity into a normalized trade event.
// PositionID is left empty so the watcher falls back to its same-trade
// window for dedup.
func (a *APIActivity) ToDomainTradeEvent() domain.TradeEvent {
	notional := a.USDCSize
	if notional == 0 {
		notional = a.Price * a.Size
	}
	return domain.TradeEvent{
		Wallet:      a.ProxyWallet,
		MarketID:    a.ConditionID,
		Question:    a.Title,
		Outcome:     outcomeFromIndex(a.OutcomeIndex),
		Side:        sideFromAPI(a.Side),
		Price:       a.Price,
		Size:        a.Size,
		NotionalUSD: notional,
		TxHash:      a.TransactionHash,
		Timestamp:   time.Unix(a.Timestamp, 0).UTC(),
	}
}

// --------------------------------------------------------------------------
// Shared parsing helpers
// --------------------------------------------------------------------------

func outcomeFromIndex(idx int) domain.Outcome {
	if idx == 1 {
		return domain.OutcomeNo
	}
	return domain.OutcomeYes
}

func sideFromAPI(side string) domain.OrderSide {
	if strings.EqualFold(side, "SELL") {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

// parseFlexTime handles the venue's mix of unix-millisecond, unix-second,
// and RFC3339 timestamps.
func parseFlexTime(raw string) time.Time {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
