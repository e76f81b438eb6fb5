package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tidebot/pkg/exchange"
)

const defaultQuoteBalance = 10000.0

func init() {
	exchange.RegisterGateway("sim", func(name string, cfg *exchange.GatewayConfig) (exchange.Gateway, error) {
		return New(), nil
	})
}

// Gateway is a paper-trading exchange implementation that keeps instruments,
// prices and order history in-memory. Limit orders fill synchronously at
// their limit price, which keeps engine and reconciliation tests
// deterministic.
type Gateway struct {
	mu sync.Mutex

	nextOrderID int64

	instruments map[string]exchange.Instrument
	prices      map[string]float64
	candles     map[string][]exchange.Candle
	orders      []exchange.OrderRecord
	quote       float64

	// FillStatus lets tests choose the status newly placed orders report.
	fillStatus exchange.OrderStatus

	clock func() time.Time
}

// New constructs a paper gateway with a default quote balance.
func New() *Gateway {
	return &Gateway{
		nextOrderID: 1,
		instruments: make(map[string]exchange.Instrument),
		prices:      make(map[string]float64),
		candles:     make(map[string][]exchange.Candle),
		quote:       defaultQuoteBalance,
		fillStatus:  exchange.StatusFilled,
		clock:       time.Now,
	}
}

func canonical(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// SetInstrument registers trading rules for a symbol.
func (g *Gateway) SetInstrument(inst exchange.Instrument) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst.Symbol = canonical(inst.Symbol)
	g.instruments[inst.Symbol] = inst
}

// SetPrice updates the reference price used for tickers and fills.
func (g *Gateway) SetPrice(symbol string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sim: price must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[canonical(symbol)] = price
	return nil
}

// SetCandles installs the candle history returned by GetCandles.
func (g *Gateway) SetCandles(symbol string, candles []exchange.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[canonical(symbol)] = append([]exchange.Candle(nil), candles...)
}

// SetFillStatus overrides the status reported for new orders (default filled).
func (g *Gateway) SetFillStatus(status exchange.OrderStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fillStatus = status
}

// SetClock overrides the time source. Intended for tests.
func (g *Gateway) SetClock(clock func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
}

// GetInstrument returns registered trading rules.
func (g *Gateway) GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instruments[canonical(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim: no instrument for %s: %w", symbol, exchange.ErrMetadataUnavailable)
	}
	out := inst
	return &out, nil
}

// GetTickerPrice returns the last set price.
func (g *Gateway) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[canonical(symbol)]
	if !ok {
		return 0, fmt.Errorf("sim: no price for %s", symbol)
	}
	return price, nil
}

// GetCandles returns up to limit installed candles, oldest first.
func (g *Gateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	candles := g.candles[canonical(symbol)]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]exchange.Candle(nil), candles...), nil
}

// PlaceOrder records the order and reports it with the configured fill status.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	symbol := canonical(req.Symbol)
	price, err := strconv.ParseFloat(strings.TrimSpace(req.Price), 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("sim: invalid price %q", req.Price)
	}
	qty, err := strconv.ParseFloat(strings.TrimSpace(req.Quantity), 64)
	if err != nil || qty <= 0 {
		return nil, fmt.Errorf("sim: invalid quantity %q", req.Quantity)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	notional := price * qty
	if req.Side == exchange.SideBuy {
		if notional > g.quote {
			return nil, fmt.Errorf("sim: insufficient quote balance %.2f for notional %.2f", g.quote, notional)
		}
		g.quote -= notional
	} else {
		g.quote += notional
	}

	id := g.nextOrderID
	g.nextOrderID++

	rec := exchange.OrderRecord{
		OrderID:   strconv.FormatInt(id, 10),
		Symbol:    symbol,
		Side:      req.Side,
		Price:     price,
		OrigQty:   qty,
		Status:    g.fillStatus,
		UpdatedAt: g.clock(),
	}
	if g.fillStatus == exchange.StatusFilled || g.fillStatus == exchange.StatusPartialFilled {
		rec.ExecutedQty = qty
		if g.fillStatus == exchange.StatusPartialFilled {
			rec.ExecutedQty = qty / 2
		}
		rec.AvgFillPrice = price
	}
	g.orders = append(g.orders, rec)

	return &exchange.OrderAck{
		OrderID:       rec.OrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        rec.Status,
		Raw:           fmt.Sprintf(`{"sim":true,"orderId":%d}`, id),
	}, nil
}

// GetOrderHistory returns recorded orders for a symbol since the given time.
func (g *Gateway) GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]exchange.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	symbol = canonical(symbol)
	var out []exchange.OrderRecord
	for _, rec := range g.orders {
		if rec.Symbol != symbol {
			continue
		}
		if !since.IsZero() && rec.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetOpenOrders returns orders that have not reached a terminal state.
func (g *Gateway) GetOpenOrders(ctx context.Context) ([]exchange.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []exchange.OrderRecord
	for _, rec := range g.orders {
		if rec.Status == exchange.StatusPending || rec.Status == exchange.StatusPartialFilled {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetBalances reports the remaining paper quote balance.
func (g *Gateway) GetBalances(ctx context.Context) ([]exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return []exchange.Balance{{Asset: "USDT", Free: g.quote}}, nil
}

// SeedOrder injects an order record directly into history. Intended for
// reconciliation tests that need exchange-side state with no local trade.
func (g *Gateway) SeedOrder(rec exchange.OrderRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec.Symbol = canonical(rec.Symbol)
	g.orders = append(g.orders, rec)
}
