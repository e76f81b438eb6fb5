// Package governor gates order placement behind position limits and
// duplicate suppression. Rejections are informational, not errors: every
// denied signal carries a reason fit for display or logging.
package governor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"tidebot/pkg/exchange"
	"tidebot/pkg/trade"
)

// Config bounds portfolio exposure.
type Config struct {
	// MaxActiveSymbols caps how many distinct symbols may hold open
	// positions at once.
	MaxActiveSymbols int `yaml:"max_active_symbols"`
	// MaxPositionsPerSymbol caps open positions on one symbol.
	MaxPositionsPerSymbol int `yaml:"max_positions_per_symbol"`
	// MaxExposurePercent caps total open notional plus the next order as a
	// percentage of account equity. Zero disables the check.
	MaxExposurePercent float64 `yaml:"max_exposure_percent"`
	// PriceClosenessPercent suppresses a new order when an open trade on the
	// same symbol sits within this distance of the proposed entry.
	PriceClosenessPercent float64 `yaml:"price_closeness_percent"`
	// MaxOrderAmount is the quote-currency budget of one order, used for the
	// exposure projection.
	MaxOrderAmount float64 `yaml:"max_order_amount"`
	// QuoteAsset names the balance used as equity baseline.
	QuoteAsset string `yaml:"quote_asset"`
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxActiveSymbols:      5,
		MaxPositionsPerSymbol: 2,
		MaxExposurePercent:    0,
		PriceClosenessPercent: 0.5,
		QuoteAsset:            "USDT",
	}
}

// Decision is the outcome of a placement check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Governor evaluates placement limits against the trade store and, when
// exposure limits are configured, the exchange wallet.
type Governor struct {
	store   trade.Store
	gateway exchange.Gateway
	cfg     *Config

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// New constructs a Governor. A nil cfg uses defaults; gateway may be nil
// when MaxExposurePercent is zero.
func New(store trade.Store, gateway exchange.Gateway, cfg *Config) *Governor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Governor{
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		inflight: make(map[string]bool),
	}
}

// CanPlace decides whether a proposed entry on a symbol may proceed.
func (g *Governor) CanPlace(ctx context.Context, symbol string, proposedEntryPrice float64) (Decision, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !(proposedEntryPrice > 0) {
		return Decision{}, fmt.Errorf("governor: proposed price %v must be positive", proposedEntryPrice)
	}

	open, err := g.store.OpenTrades(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("governor: load open trades: %w", err)
	}

	var (
		symbolCount  int
		openNotional float64
		activeSet    = make(map[string]bool)
	)
	for _, t := range open {
		activeSet[t.Symbol] = true
		openNotional += t.SubmittedPrice * t.Quantity
		if t.Symbol != symbol {
			continue
		}
		symbolCount++
		if g.cfg.PriceClosenessPercent > 0 && t.SubmittedPrice > 0 {
			distance := math.Abs(proposedEntryPrice-t.SubmittedPrice) / t.SubmittedPrice * 100
			if distance <= g.cfg.PriceClosenessPercent {
				return Decision{Reason: fmt.Sprintf(
					"duplicate order suppressed: open trade %s at %.8g is %.3f%% from proposed %.8g (threshold %.3f%%)",
					t.ID, t.SubmittedPrice, distance, proposedEntryPrice, g.cfg.PriceClosenessPercent)}, nil
			}
		}
	}

	if g.cfg.MaxPositionsPerSymbol > 0 && symbolCount >= g.cfg.MaxPositionsPerSymbol {
		return Decision{Reason: fmt.Sprintf("max positions per symbol reached for %s (%d/%d)",
			symbol, symbolCount, g.cfg.MaxPositionsPerSymbol)}, nil
	}

	if g.cfg.MaxActiveSymbols > 0 && !activeSet[symbol] && len(activeSet) >= g.cfg.MaxActiveSymbols {
		return Decision{Reason: fmt.Sprintf("max active symbols reached (%d/%d)",
			len(activeSet), g.cfg.MaxActiveSymbols)}, nil
	}

	if g.cfg.MaxExposurePercent > 0 {
		decision, err := g.checkExposure(ctx, openNotional)
		if err != nil {
			return Decision{}, err
		}
		if !decision.Allowed {
			return decision, nil
		}
	}

	return Decision{Allowed: true}, nil
}

func (g *Governor) checkExposure(ctx context.Context, openNotional float64) (Decision, error) {
	if g.gateway == nil {
		return Decision{Allowed: true}, nil
	}
	balances, err := g.gateway.GetBalances(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("governor: load balances: %w", err)
	}
	var quote float64
	for _, b := range balances {
		if strings.EqualFold(b.Asset, g.cfg.QuoteAsset) {
			quote = b.Free + b.Locked
			break
		}
	}
	equity := quote + openNotional
	if equity <= 0 {
		return Decision{Reason: "exposure check: account equity unavailable"}, nil
	}
	projected := (openNotional + g.cfg.MaxOrderAmount) / equity * 100
	if projected > g.cfg.MaxExposurePercent {
		return Decision{Reason: fmt.Sprintf("max exposure exceeded: projected %.1f%% of equity (limit %.1f%%)",
			projected, g.cfg.MaxExposurePercent)}, nil
	}
	return Decision{Allowed: true}, nil
}

// TryAcquire claims the per-symbol in-flight slot. It returns false while a
// previous submission for the symbol has not been released, which keeps
// overlapping cycles from double-submitting.
func (g *Governor) TryAcquire(symbol string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	if g.inflight[symbol] {
		return false
	}
	g.inflight[symbol] = true
	return true
}

// Release frees the per-symbol in-flight slot.
func (g *Governor) Release(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	delete(g.inflight, symbol)
}
