// Package gateway submits orders to the venue and tracks their lifecycle
// locally. It never re-queries the venue; status reflects what this
// process did.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// Gateway wraps an OrderSubmitter with local order tracking.
type Gateway struct {
	submitter domain.OrderSubmitter
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	orders map[string]domain.Order // by order id
}

// New builds a gateway around submitter.
func New(submitter domain.OrderSubmitter, logger *slog.Logger) *Gateway {
	return &Gateway{
		submitter: submitter,
		logger:    logger.With(slog.String("component", "gateway")),
		now:       time.Now,
		orders:    make(map[string]domain.Order),
	}
}

// Place validates req, submits it, and tracks the resulting order as
// pending. A rejected or failed submission is returned as an error and
// nothing is tracked.
func (g *Gateway) Place(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := validate(req); err != nil {
		return domain.Order{}, err
	}

	res, err := g.submitter.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("gateway: place order: %w", err)
	}
	if !res.Success || res.OrderID == "" {
		return domain.Order{}, fmt.Errorf("gateway: order rejected: %s: %w", res.Message, domain.ErrInvalidOrder)
	}

	order := domain.Order{
		ID:          res.OrderID,
		MarketID:    req.MarketID,
		TokenID:     req.TokenID,
		Outcome:     req.Outcome,
		Side:        req.Side,
		Price:       req.Price,
		Size:        req.Size,
		NotionalUSD: req.NotionalUSD(),
		Status:      domain.OrderStatusPending,
		PlacedAt:    g.now(),
	}

	g.mu.Lock()
	g.orders[order.ID] = order
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("market_id", order.MarketID),
		slog.String("outcome", string(order.Outcome)),
		slog.String("side", string(order.Side)),
		slog.Float64("price", order.Price),
		slog.Float64("size", order.Size))
	return order, nil
}

// Cancel asks the venue to cancel orderID and marks it cancelled locally.
// Unknown ids are a no-op returning false. The local mark happens even
// when the venue call fails, so a retried compensation never double
// counts the order.
func (g *Gateway) Cancel(ctx context.Context, orderID string) bool {
	g.mu.Lock()
	order, ok := g.orders[orderID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	if order.Status == domain.OrderStatusCancelled {
		g.mu.Unlock()
		return true
	}
	cancelledAt := g.now()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &cancelledAt
	g.orders[orderID] = order
	g.mu.Unlock()

	if err := g.submitter.CancelOrder(ctx, orderID); err != nil {
		g.logger.WarnContext(ctx, "venue cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	} else {
		g.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", orderID))
	}
	return true
}

// Order returns the tracked order by id.
func (g *Gateway) Order(orderID string) (domain.Order, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	order, ok := g.orders[orderID]
	return order, ok
}

// Pending returns all orders still tracked as pending.
func (g *Gateway) Pending() []domain.Order {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.Order, 0, len(g.orders))
	for _, order := range g.orders {
		if order.Status == domain.OrderStatusPending {
			out = append(out, order)
		}
	}
	return out
}

// MarketOrders returns every tracked order for marketID.
func (g *Gateway) MarketOrders(marketID string) []domain.Order {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []domain.Order
	for _, order := range g.orders {
		if order.MarketID == marketID {
			out = append(out, order)
		}
	}
	return out
}

func validate(req domain.OrderRequest) error {
	switch {
	case req.TokenID == "":
		return fmt.Errorf("gateway: missing token id: %w", domain.ErrInvalidOrder)
	case req.Price <= 0 || req.Price >= 1:
		return fmt.Errorf("gateway: price %v outside (0, 1): %w", req.Price, domain.ErrInvalidOrder)
	case req.Size <= 0:
		return fmt.Errorf("gateway: size %v must be positive: %w", req.Size, domain.ErrInvalidOrder)
	case req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell:
		return fmt.Errorf("gateway: unknown side %q: %w", req.Side, domain.ErrInvalidOrder)
	}
	return nil
}
