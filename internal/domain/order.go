package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the order lifecycle as the gateway sees it.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// OrderRequest is what callers hand the gateway.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Outcome  Outcome
	Side     OrderSide
	Price    float64
	Size     float64 // shares
	Type     OrderType
}

// NotionalUSD is the dollar value of the request at its limit price.
func (r OrderRequest) NotionalUSD() float64 {
	return r.Price * r.Size
}

// Order is a submitted order as tracked locally by the gateway.
type Order struct {
	ID          string
	MarketID    string
	TokenID     string
	Outcome     Outcome
	Side        OrderSide
	Price       float64
	Size        float64
	NotionalUSD float64
	Status      OrderStatus
	PlacedAt    time.Time
	CancelledAt *time.Time
}

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Message     string
	ShouldRetry bool
}
