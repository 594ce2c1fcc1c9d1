package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/engine/internal/domain"
)

type fakeSubmitter struct {
	placed     []domain.OrderRequest
	cancelled  []string
	nextID     int
	placeErr   error
	reject     bool
	cancelErr  error
	rejectMsg  string
	failTokens map[string]bool
}

func (f *fakeSubmitter) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	if f.reject || f.failTokens[req.TokenID] {
		return domain.OrderResult{Success: false, Message: f.rejectMsg}, nil
	}
	f.placed = append(f.placed, req)
	f.nextID++
	return domain.OrderResult{Success: true, OrderID: fmt.Sprintf("ord-%d", f.nextID)}, nil
}

func (f *fakeSubmitter) CancelOrder(_ context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func buyReq() domain.OrderRequest {
	return domain.OrderRequest{
		MarketID: "mkt-1",
		TokenID:  "tok-yes",
		Outcome:  domain.OutcomeYes,
		Side:     domain.OrderSideBuy,
		Price:    0.48,
		Size:     100,
		Type:     domain.OrderTypeGTC,
	}
}

func TestPlaceTracksPending(t *testing.T) {
	sub := &fakeSubmitter{}
	g := New(sub, slog.Default())

	order, err := g.Place(context.Background(), buyReq())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.InDelta(t, 48.0, order.NotionalUSD, 1e-9)

	got, ok := g.Order("ord-1")
	require.True(t, ok)
	assert.Equal(t, order.ID, got.ID)
	assert.Len(t, g.Pending(), 1)
	assert.Len(t, g.MarketOrders("mkt-1"), 1)
	assert.Empty(t, g.MarketOrders("mkt-2"))
}

func TestPlaceValidation(t *testing.T) {
	g := New(&fakeSubmitter{}, slog.Default())
	ctx := context.Background()

	for name, mutate := range map[string]func(*domain.OrderRequest){
		"zero price":    func(r *domain.OrderRequest) { r.Price = 0 },
		"price at one":  func(r *domain.OrderRequest) { r.Price = 1.0 },
		"zero size":     func(r *domain.OrderRequest) { r.Size = 0 },
		"missing token": func(r *domain.OrderRequest) { r.TokenID = "" },
		"bad side":      func(r *domain.OrderRequest) { r.Side = "hold" },
	} {
		t.Run(name, func(t *testing.T) {
			req := buyReq()
			mutate(&req)
			_, err := g.Place(ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
	assert.Empty(t, g.Pending(), "nothing tracked for invalid requests")
}

func TestPlaceRejectionNotTracked(t *testing.T) {
	sub := &fakeSubmitter{reject: true, rejectMsg: "insufficient balance"}
	g := New(sub, slog.Default())

	_, err := g.Place(context.Background(), buyReq())
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, g.Pending())

	sub2 := &fakeSubmitter{placeErr: errors.New("boom")}
	g2 := New(sub2, slog.Default())
	_, err = g2.Place(context.Background(), buyReq())
	require.Error(t, err)
	assert.Empty(t, g2.Pending())
}

func TestCancelLifecycle(t *testing.T) {
	sub := &fakeSubmitter{}
	g := New(sub, slog.Default())
	ctx := context.Background()

	order, err := g.Place(ctx, buyReq())
	require.NoError(t, err)

	assert.False(t, g.Cancel(ctx, "nope"), "unknown id is a no-op")

	require.True(t, g.Cancel(ctx, order.ID))
	got, _ := g.Order(order.ID)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.Empty(t, g.Pending())
	assert.Equal(t, []string{order.ID}, sub.cancelled)

	// Second cancel stays true but does not hit the venue again.
	require.True(t, g.Cancel(ctx, order.ID))
	assert.Len(t, sub.cancelled, 1)
}

func TestCancelMarksLocallyOnVenueFailure(t *testing.T) {
	sub := &fakeSubmitter{}
	g := New(sub, slog.Default())
	ctx := context.Background()

	order, err := g.Place(ctx, buyReq())
	require.NoError(t, err)

	sub.cancelErr = errors.New("venue down")
	require.True(t, g.Cancel(ctx, order.ID))
	got, _ := g.Order(order.ID)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}
