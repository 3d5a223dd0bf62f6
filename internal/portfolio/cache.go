// Package portfolio maintains the local view of account balances used
// to size and pre-check trades without a REST round trip on every
// evaluation tick.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/svyatogor45/triarb/internal/exchange"
	"github.com/svyatogor45/triarb/internal/models"
)

// defaultTTL matches the exchange's own balance cache lifetime: long
// enough that a REST refresh isn't needed every tick once a WebSocket
// balance feed is in place, short enough to bound staleness when it
// isn't.
const defaultTTL = 30 * time.Second

// Cache is a TTL'd snapshot of free balances, refreshed from the
// exchange on demand and adjusted locally between refreshes so a
// sequence of order fills doesn't need a REST call per leg.
type Cache struct {
	ex  exchange.Exchange
	ttl time.Duration

	mu         sync.Mutex
	snapshot   models.Portfolio
	lastUpdate time.Time
	publicOnly bool
}

// New builds a Cache over ex. If publicOnly is true, GetBalance is
// never called and Free always reports zero for every asset — the
// engine is watching the book without trading it.
func New(ex exchange.Exchange, publicOnly bool) *Cache {
	return &Cache{ex: ex, ttl: defaultTTL, publicOnly: publicOnly}
}

// Get returns the current balance snapshot, refreshing from the
// exchange first if the cache is stale or forceRefresh is set. In
// public-only mode it always returns an empty portfolio without
// touching the exchange.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (models.Portfolio, error) {
	if c.publicOnly {
		return models.Portfolio{Timestamp: time.Now()}, nil
	}

	c.mu.Lock()
	stale := forceRefresh || time.Since(c.lastUpdate) > c.ttl
	c.mu.Unlock()

	if !stale {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.snapshot.Clone(), nil
	}

	fresh, err := c.ex.GetBalance(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if !c.lastUpdate.IsZero() {
			return c.snapshot.Clone(), nil
		}
		return models.Portfolio{}, err
	}

	c.snapshot = fresh
	c.lastUpdate = time.Now()
	return c.snapshot.Clone(), nil
}

// Free returns the free balance of one asset from the last snapshot
// without forcing a refresh.
func (c *Cache) Free(asset string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Free(asset)
}

// Adjust applies a local balance delta, used to reflect an order fill
// immediately rather than waiting for the next refresh. Balances never
// go negative; a delta that would push one below zero clamps to zero.
func (c *Cache) Adjust(asset string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot.Balances == nil {
		c.snapshot.Balances = make(map[string]float64)
	}
	next := c.snapshot.Balances[asset] + delta
	if next < 0 {
		next = 0
	}
	c.snapshot.Balances[asset] = next
}

// UpdateFromFeed replaces the cached snapshot with a push update (e.g.
// from a private balance WebSocket channel), marking it fresh.
func (c *Cache) UpdateFromFeed(p models.Portfolio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = p
	c.lastUpdate = time.Now()
}
