// Package instrument caches per-symbol trading rules fetched from the
// exchange gateway. One Catalog instance is owned per process and passed by
// reference to the components that need it.
package instrument

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tidebot/pkg/exchange"
)

// Override replaces selected exchange-reported rules for a symbol. Zero
// fields leave the fetched value untouched.
type Override struct {
	TickSize    float64
	StepSize    float64
	MinNotional float64
}

type entry struct {
	inst      exchange.Instrument
	fetchedAt time.Time
}

// Catalog lazily fetches and caches instrument metadata. Entries are never
// mutated in place, only replaced wholesale on refresh or invalidation.
type Catalog struct {
	gateway exchange.Gateway
	ttl     time.Duration // zero means cache forever until invalidated
	clock   func() time.Time

	mu        sync.RWMutex
	entries   map[string]entry
	overrides map[string]Override
}

// Option customises a Catalog.
type Option func(*Catalog)

// WithTTL sets a refresh interval after which cached rules are re-fetched.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Catalog) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCatalog constructs a catalog backed by the given gateway.
func NewCatalog(gateway exchange.Gateway, opts ...Option) *Catalog {
	c := &Catalog{
		gateway:   gateway,
		clock:     time.Now,
		entries:   make(map[string]entry),
		overrides: make(map[string]Override),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func canonical(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// SetOverride installs per-symbol rule overrides from bot configuration.
// Overrides survive cache invalidation.
func (c *Catalog) SetOverride(symbol string, ov Override) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[canonical(symbol)] = ov
	delete(c.entries, canonical(symbol))
}

// Get returns the trading rules for a symbol, fetching them on first use.
func (c *Catalog) Get(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	key := canonical(symbol)
	if key == "" {
		return nil, fmt.Errorf("instrument: empty symbol: %w", exchange.ErrMetadataUnavailable)
	}

	if inst, ok := c.cached(key); ok {
		return inst, nil
	}

	fetched, err := c.gateway.GetInstrument(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("instrument: fetch rules for %s: %w", key, err)
	}
	inst := c.applyOverride(key, *fetched)
	if inst.TickSize <= 0 || inst.StepSize <= 0 {
		return nil, fmt.Errorf("instrument: invalid rules for %s (tick=%v step=%v): %w",
			key, inst.TickSize, inst.StepSize, exchange.ErrMetadataUnavailable)
	}

	c.mu.Lock()
	c.entries[key] = entry{inst: inst, fetchedAt: c.clock()}
	c.mu.Unlock()

	out := inst
	return &out, nil
}

func (c *Catalog) cached(key string) (*exchange.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.clock().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	out := e.inst
	return &out, true
}

func (c *Catalog) applyOverride(key string, inst exchange.Instrument) exchange.Instrument {
	c.mu.RLock()
	ov, ok := c.overrides[key]
	c.mu.RUnlock()
	if !ok {
		return inst
	}
	if ov.TickSize > 0 {
		inst.TickSize = ov.TickSize
	}
	if ov.StepSize > 0 {
		inst.StepSize = ov.StepSize
	}
	if ov.MinNotional > 0 {
		inst.MinNotional = ov.MinNotional
	}
	return inst
}

// Invalidate drops the cached rules for one symbol.
func (c *Catalog) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, canonical(symbol))
}

// InvalidateAll clears the cache.
func (c *Catalog) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
