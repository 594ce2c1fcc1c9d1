// Package markets maintains an in-memory catalog of tradable markets,
// periodically refreshed from the Gamma API. The catalog answers market
// lookups by id or condition id and resolves token ids back to their
// market and outcome.
package markets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// gammaAPI is the slice of the Gamma client the catalog needs.
type gammaAPI interface {
	GetActiveMarkets(ctx context.Context, limit int) ([]domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetMarketByCondition(ctx context.Context, conditionID string) (domain.Market, error)
}

// tokenRef points a token id at its market and outcome slot.
type tokenRef struct {
	marketID string
	outcome  domain.Outcome
}

// Options tune the catalog.
type Options struct {
	MaxMarkets      int           // markets to hold per refresh
	RefreshInterval time.Duration // how often Run re-pulls the active set
}

// Catalog caches market metadata, keyed three ways: by Gamma id, by CTF
// condition id, and by token id. Misses fall through to the API and are
// cached on success.
type Catalog struct {
	gamma  gammaAPI
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	byID        map[string]domain.Market
	byCondition map[string]string // condition id -> market id
	byToken     map[string]tokenRef
	ordered     []string // market ids in volume order from the last refresh
}

// New builds an empty catalog. Call Refresh or Run before serving lookups.
func New(gamma gammaAPI, opts Options, logger *slog.Logger) *Catalog {
	if opts.MaxMarkets <= 0 {
		opts.MaxMarkets = 100
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	return &Catalog{
		gamma:       gamma,
		opts:        opts,
		logger:      logger.With(slog.String("component", "market_catalog")),
		byID:        make(map[string]domain.Market),
		byCondition: make(map[string]string),
		byToken:     make(map[string]tokenRef),
	}
}

// Refresh replaces the active set with the current top markets by volume.
// Markets cached from point lookups survive the refresh.
func (c *Catalog) Refresh(ctx context.Context) error {
	active, err := c.gamma.GetActiveMarkets(ctx, c.opts.MaxMarkets)
	if err != nil {
		return fmt.Errorf("markets: refresh: %w", err)
	}

	c.mu.Lock()
	c.ordered = c.ordered[:0]
	for _, m := range active {
		c.indexLocked(m)
		c.ordered = append(c.ordered, m.ID)
	}
	count := len(c.byID)
	c.mu.Unlock()

	c.logger.Debug("catalog refreshed",
		slog.Int("active", len(active)),
		slog.Int("cached", count))
	return nil
}

// Run refreshes immediately and then on the configured interval until ctx
// is cancelled. Refresh failures are logged and retried next tick.
func (c *Catalog) Run(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial catalog refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("catalog refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Market returns the market with the given Gamma id or CTF condition id.
// Cache misses go to the API and are cached on success.
func (c *Catalog) Market(ctx context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	if m, ok := c.byID[id]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	if marketID, ok := c.byCondition[id]; ok {
		m := c.byID[marketID]
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	var (
		m   domain.Market
		err error
	)
	if strings.HasPrefix(id, "0x") {
		m, err = c.gamma.GetMarketByCondition(ctx, id)
	} else {
		m, err = c.gamma.GetMarket(ctx, id)
	}
	if err != nil {
		return domain.Market{}, err
	}

	c.mu.Lock()
	c.indexLocked(m)
	c.mu.Unlock()
	return m, nil
}

// ActiveMarkets returns up to limit markets from the last refresh, in the
// refresh's volume order.
func (c *Catalog) ActiveMarkets(_ context.Context, limit int) ([]domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.ordered)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Market, 0, n)
	for _, id := range c.ordered[:n] {
		out = append(out, c.byID[id])
	}
	return out, nil
}

// ResolveToken maps a token id to its market and outcome. Unknown tokens
// report domain.ErrNotFound; callers treat those as markets outside the
// watched universe.
func (c *Catalog) ResolveToken(_ context.Context, tokenID string) (domain.Market, domain.Outcome, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ref, ok := c.byToken[tokenID]
	if !ok {
		return domain.Market{}, "", fmt.Errorf("markets: token %s: %w", tokenID, domain.ErrNotFound)
	}
	return c.byID[ref.marketID], ref.outcome, nil
}

// Size reports how many markets are cached.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// indexLocked inserts a market into all three indexes. Caller holds c.mu.
func (c *Catalog) indexLocked(m domain.Market) {
	c.byID[m.ID] = m
	if m.ConditionID != "" {
		c.byCondition[m.ConditionID] = m.ID
	}
	if m.TokenIDs[0] != "" {
		c.byToken[m.TokenIDs[0]] = tokenRef{marketID: m.ID, outcome: domain.OutcomeYes}
	}
	if m.TokenIDs[1] != "" {
		c.byToken[m.TokenIDs[1]] = tokenRef{marketID: m.ID, outcome: domain.OutcomeNo}
	}
}
