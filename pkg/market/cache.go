// Package market maintains a live view of last-traded prices, fed by the
// exchange websocket stream and consumed by the decision loop and display.
package market

import (
	"strings"
	"sync"
	"time"
)

// PriceCache holds the latest price per symbol with its arrival time.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]priceEntry
	clock   func() time.Time
}

type priceEntry struct {
	price float64
	at    time.Time
}

// NewPriceCache constructs an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		entries: make(map[string]priceEntry),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *PriceCache) SetClock(clock func() time.Time) { c.clock = clock }

// Set stores the latest price for a symbol. Non-positive prices are ignored.
func (c *PriceCache) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	key := canonical(symbol)
	c.mu.Lock()
	c.entries[key] = priceEntry{price: price, at: c.clock()}
	c.mu.Unlock()
}

// Get returns the latest price for a symbol, if any.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[canonical(symbol)]
	if !ok {
		return 0, false
	}
	return e.price, true
}

// GetFresh returns the latest price only when it arrived within maxAge. A
// stale price is worse than no price for placement decisions.
func (c *PriceCache) GetFresh(symbol string, maxAge time.Duration) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[canonical(symbol)]
	if !ok || c.clock().Sub(e.at) > maxAge {
		return 0, false
	}
	return e.price, true
}

func canonical(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }
