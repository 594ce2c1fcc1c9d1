// Package replicator turns observed wallet trades into mirrored orders.
// Each event runs through a fixed pipeline: dedup, eligibility, the
// arbitrage gate, sizing, the risk gate, then execution as either a
// hedged YES+NO pair or a directional mirror.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polycopy/engine/internal/arb"
	"github.com/polycopy/engine/internal/dedup"
	"github.com/polycopy/engine/internal/domain"
	"github.com/polycopy/engine/internal/gateway"
	"github.com/polycopy/engine/internal/risk"
)

// Outcome is the terminal state of processing one trade event.
type Outcome string

const (
	OutcomeCopied  Outcome = "copied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what happened to one event.
type Result struct {
	Outcome Outcome
	Reason  string
}

func skipped(reason string) Result { return Result{Outcome: OutcomeSkipped, Reason: reason} }
func failed(reason string) Result  { return Result{Outcome: OutcomeFailed, Reason: reason} }

// Alerter is the notification hook. Satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options tune the engine.
type Options struct {
	MinOrderUSD float64 // venue minimum, sized orders below are nothing-to-do
	CopiedTTL   time.Duration
}

// Engine consumes trade events and mirrors them. A single Run goroutine
// owns the pipeline, so the ledger admission check and the post-placement
// open never interleave with another event's.
type Engine struct {
	wallets map[string]domain.WatchedWallet // by lowercase address
	events  <-chan domain.TradeEvent
	opps    *arb.Cache
	ledger  *risk.Ledger
	gw      *gateway.Gateway
	markets domain.MarketSource
	copied  *dedup.Set
	alerter Alerter // optional
	opts    Options
	logger  *slog.Logger
}

// New builds an engine reading from events. alerter may be nil.
func New(
	wallets []domain.WatchedWallet,
	events <-chan domain.TradeEvent,
	opps *arb.Cache,
	ledger *risk.Ledger,
	gw *gateway.Gateway,
	markets domain.MarketSource,
	alerter Alerter,
	opts Options,
	logger *slog.Logger,
) *Engine {
	byAddr := make(map[string]domain.WatchedWallet, len(wallets))
	for _, w := range wallets {
		byAddr[strings.ToLower(w.Address)] = w
	}
	if opts.CopiedTTL <= 0 {
		opts.CopiedTTL = 24 * time.Hour
	}
	return &Engine{
		wallets: byAddr,
		events:  events,
		opps:    opps,
		ledger:  ledger,
		gw:      gw,
		markets: markets,
		copied:  dedup.NewSet(opts.CopiedTTL),
		alerter: alerter,
		opts:    opts,
		logger:  logger.With(slog.String("component", "replicator")),
	}
}

// Run consumes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("replicator started", slog.Int("wallets", len(e.wallets)))
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("replicator stopped")
			return ctx.Err()
		case <-cleanup.C:
			e.copied.Cleanup()
		case ev := <-e.events:
			res := e.Process(ctx, ev)
			level := slog.LevelDebug
			if res.Outcome != OutcomeSkipped {
				level = slog.LevelInfo
			}
			e.logger.Log(ctx, level, "event processed",
				slog.String("wallet", ev.WalletName),
				slog.String("market_id", ev.MarketID),
				slog.String("outcome", string(res.Outcome)),
				slog.String("reason", res.Reason))
		}
	}
}

// Process runs one event through the pipeline and returns its terminal
// outcome. The copied key is only marked on success, so a failed event
// can be retried by a later observation with a fresh tx id.
func (e *Engine) Process(ctx context.Context, ev domain.TradeEvent) Result {
	key := ev.CopyKey()
	if e.copied.Contains(key) {
		return skipped("already copied")
	}

	wallet, ok := e.wallets[strings.ToLower(ev.Wallet)]
	if !ok || !wallet.Enabled {
		return skipped("wallet not enabled")
	}
	if !wallet.AllowsMarket(ev.MarketID) {
		return skipped("market not in allow-list")
	}

	opp, live := e.opps.GetValid(ev.MarketID)
	if wallet.RequireOpportunity && !live {
		return skipped("no live arbitrage signal")
	}

	sizeUSD := ev.NotionalUSD * wallet.SizeScale
	if wallet.MaxCopyUSD > 0 && sizeUSD > wallet.MaxCopyUSD {
		sizeUSD = wallet.MaxCopyUSD
	}
	if sizeUSD < e.opts.MinOrderUSD {
		return skipped(fmt.Sprintf("sized $%.2f below $%.2f minimum", sizeUSD, e.opts.MinOrderUSD))
	}

	if err := e.ledger.CanOpen(ev.MarketID, sizeUSD); err != nil {
		if errors.Is(err, risk.ErrDailyLossStop) {
			e.alert(ctx, "daily_loss_stop", "Daily loss stop",
				fmt.Sprintf("Copying halted for the day; rejected %s on %s", ev.WalletName, ev.MarketID))
		}
		return skipped(err.Error())
	}

	market, err := e.markets.Market(ctx, ev.MarketID)
	if err != nil {
		return failed(fmt.Sprintf("market lookup: %v", err))
	}

	var res Result
	if live {
		res = e.placeHedgedPair(ctx, market, ev, opp, sizeUSD)
	} else {
		res = e.placeDirectional(ctx, market, ev, sizeUSD)
	}
	if res.Outcome == OutcomeCopied {
		e.copied.Mark(key)
	}
	return res
}

// placeDirectional mirrors the observed trade one-for-one at its price.
func (e *Engine) placeDirectional(ctx context.Context, market domain.Market, ev domain.TradeEvent, sizeUSD float64) Result {
	req := domain.OrderRequest{
		MarketID: market.ID,
		TokenID:  market.TokenIDs[ev.Outcome.Index()],
		Outcome:  ev.Outcome,
		Side:     ev.Side,
		Price:    ev.Price,
		Size:     sizeUSD / ev.Price,
		Type:     domain.OrderTypeGTC,
	}

	order, err := e.gw.Place(ctx, req)
	if err != nil {
		return failed(fmt.Sprintf("directional place: %v", err))
	}

	if _, err := e.ledger.TryOpen(ctx, ev.Wallet, market.ID, ev.Outcome, ev.Side, sizeUSD, ev.Price); err != nil {
		// Admission changed between the gate and the open. Do not carry
		// an untracked position.
		e.gw.Cancel(ctx, order.ID)
		return failed(fmt.Sprintf("ledger rejected after placement: %v", err))
	}

	e.alert(ctx, "trade_copied", "Trade copied",
		fmt.Sprintf("%s %s %s @ %.3f for $%.2f (following %s)",
			strings.ToUpper(string(ev.Side)), string(ev.Outcome), market.ID, ev.Price, sizeUSD, ev.WalletName))
	return Result{Outcome: OutcomeCopied, Reason: "directional"}
}

// placeHedgedPair splits the notional 50/50 across YES and NO at the
// opportunity's recorded asks. Either both legs stand or neither does:
// a one-legged fill is unwound by cancelling the placed leg.
func (e *Engine) placeHedgedPair(ctx context.Context, market domain.Market, ev domain.TradeEvent, opp domain.ArbitrageOpportunity, sizeUSD float64) Result {
	half := sizeUSD / 2

	yesOrder, err := e.gw.Place(ctx, domain.OrderRequest{
		MarketID: market.ID,
		TokenID:  market.TokenIDs[0],
		Outcome:  domain.OutcomeYes,
		Side:     domain.OrderSideBuy,
		Price:    opp.YesAsk,
		Size:     half / opp.YesAsk,
		Type:     domain.OrderTypeGTC,
	})
	if err != nil {
		return failed(fmt.Sprintf("yes leg place: %v", err))
	}

	noOrder, err := e.gw.Place(ctx, domain.OrderRequest{
		MarketID: market.ID,
		TokenID:  market.TokenIDs[1],
		Outcome:  domain.OutcomeNo,
		Side:     domain.OrderSideBuy,
		Price:    opp.NoAsk,
		Size:     half / opp.NoAsk,
		Type:     domain.OrderTypeGTC,
	})
	if err != nil {
		e.gw.Cancel(ctx, yesOrder.ID)
		e.alert(ctx, "hedge_unwound", "Hedge leg unwound",
			fmt.Sprintf("NO leg failed on %s, YES order %s cancelled", market.ID, yesOrder.ID))
		return failed(fmt.Sprintf("no leg place, yes leg cancelled: %v", err))
	}

	if _, err := e.ledger.TryOpen(ctx, ev.Wallet, market.ID, domain.OutcomeYes, domain.OrderSideBuy, half, opp.YesAsk); err != nil {
		e.gw.Cancel(ctx, yesOrder.ID)
		e.gw.Cancel(ctx, noOrder.ID)
		return failed(fmt.Sprintf("ledger rejected after placement: %v", err))
	}
	if _, err := e.ledger.TryOpen(ctx, ev.Wallet, market.ID, domain.OutcomeNo, domain.OrderSideBuy, half, opp.NoAsk); err != nil {
		e.gw.Cancel(ctx, yesOrder.ID)
		e.gw.Cancel(ctx, noOrder.ID)
		e.ledger.Close(ctx, market.ID, domain.OutcomeYes, opp.YesAsk)
		return failed(fmt.Sprintf("ledger rejected after placement: %v", err))
	}

	e.alert(ctx, "hedge_placed", "Hedged pair placed",
		fmt.Sprintf("%s: YES @ %.3f + NO @ %.3f, $%.2f total, %.2f%% edge",
			market.ID, opp.YesAsk, opp.NoAsk, sizeUSD, opp.ProfitPct*100))
	return Result{Outcome: OutcomeCopied, Reason: "hedged pair"}
}

// alert delivers best-effort: notification failures never affect the
// trade outcome.
func (e *Engine) alert(ctx context.Context, event, title, message string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
