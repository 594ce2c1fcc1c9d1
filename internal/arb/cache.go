// Package arb prices buy-both YES+NO opportunities on single markets and
// keeps the latest result per market in an in-memory cache.
package arb

import (
	"sync"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// Cache holds the most recent opportunity per market. Each scan replaces
// the previous entry; entries past maxAge are treated as gone.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]domain.ArbitrageOpportunity
	maxAge  time.Duration
	now     func() time.Time
}

// NewCache builds a cache whose entries expire after maxAge.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]domain.ArbitrageOpportunity),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Put stores opp, replacing any prior entry for the market.
func (c *Cache) Put(opp domain.ArbitrageOpportunity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[opp.MarketID] = opp
}

// Delete removes the entry for marketID, if any.
func (c *Cache) Delete(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, marketID)
}

// GetValid returns the cached opportunity for marketID if one exists and
// has not gone stale.
func (c *Cache) GetValid(marketID string) (domain.ArbitrageOpportunity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	opp, ok := c.entries[marketID]
	if !ok || opp.Age(c.now()) > c.maxAge {
		return domain.ArbitrageOpportunity{}, false
	}
	return opp, true
}

// Snapshot returns all non-stale entries.
func (c *Cache) Snapshot() []domain.ArbitrageOpportunity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]domain.ArbitrageOpportunity, 0, len(c.entries))
	for _, opp := range c.entries {
		if opp.Age(now) <= c.maxAge {
			out = append(out, opp)
		}
	}
	return out
}

// Prune drops stale entries and returns how many remain.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, opp := range c.entries {
		if opp.Age(now) > c.maxAge {
			delete(c.entries, id)
		}
	}
	return len(c.entries)
}
