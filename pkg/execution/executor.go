// Package execution submits exchange orders and records the resulting
// trades. It owns the format-validate-place-persist pipeline; decisions about
// whether an order should exist at all belong to the governor and strategy
// layers.
package execution

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"tidebot/pkg/exchange"
	"tidebot/pkg/precision"
	"tidebot/pkg/trade"
)

// Result reports a successful submission.
type Result struct {
	TradeID  string
	OrderID  string
	Price    string
	Quantity string
	Status   exchange.OrderStatus
}

// Executor turns accepted signals into exchange orders. Every submission is
// formatted and re-validated against instrument rules immediately before it
// leaves the process; raw floats never reach the wire.
type Executor struct {
	gateway   exchange.Gateway
	formatter *precision.Formatter
	store     trade.Store
	clock     func() time.Time
}

// New constructs an Executor.
func New(gateway exchange.Gateway, formatter *precision.Formatter, store trade.Store) *Executor {
	return &Executor{
		gateway:   gateway,
		formatter: formatter,
		store:     store,
		clock:     time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Executor) SetClock(clock func() time.Time) { e.clock = clock }

// ExecuteBuy places a limit buy sized by a quote-currency budget. The
// quantity is derived from the formatted price so the recorded trade matches
// what the exchange saw.
func (e *Executor) ExecuteBuy(ctx context.Context, symbol string, rawPrice, quoteAmount float64) (*Result, error) {
	if !(quoteAmount > 0) {
		return nil, fmt.Errorf("execution: quote amount %v must be positive", quoteAmount)
	}
	priceText, err := e.formatter.FormatPrice(ctx, symbol, rawPrice)
	if err != nil {
		return nil, fmt.Errorf("execution: format buy price for %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil {
		return nil, fmt.Errorf("execution: parse formatted price %q: %w", priceText, err)
	}
	return e.submit(ctx, symbol, exchange.SideBuy, price, priceText, quoteAmount/price)
}

// ExecuteSell places a limit sell for an explicit quantity, typically the
// size of a position being closed.
func (e *Executor) ExecuteSell(ctx context.Context, symbol string, rawPrice, quantity float64) (*Result, error) {
	priceText, err := e.formatter.FormatPrice(ctx, symbol, rawPrice)
	if err != nil {
		return nil, fmt.Errorf("execution: format sell price for %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil {
		return nil, fmt.Errorf("execution: parse formatted price %q: %w", priceText, err)
	}
	return e.submit(ctx, symbol, exchange.SideSell, price, priceText, quantity)
}

func (e *Executor) submit(ctx context.Context, symbol string, side exchange.Side, price float64, priceText string, rawQty float64) (*Result, error) {
	qtyText, err := e.formatter.FormatQuantity(ctx, symbol, rawQty)
	if err != nil {
		return nil, fmt.Errorf("execution: format quantity for %s: %w", symbol, err)
	}
	qty, err := strconv.ParseFloat(qtyText, 64)
	if err != nil {
		return nil, fmt.Errorf("execution: parse formatted quantity %q: %w", qtyText, err)
	}
	if err := e.formatter.ValidateOrder(ctx, symbol, price, qty); err != nil {
		return nil, fmt.Errorf("execution: validate %s %s: %w", side, symbol, err)
	}

	clientOrderID := uuid.NewString()
	ack, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          "LIMIT",
		Price:         priceText,
		Quantity:      qtyText,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("execution: place %s %s: %w", side, symbol, err)
	}
	if ack == nil || ack.OrderID == "" {
		return nil, fmt.Errorf("execution: exchange accepted %s %s without an order id", side, symbol)
	}

	status := ack.Status
	if status == "" {
		status = exchange.StatusPending
	}
	now := e.clock()
	tr := &trade.Trade{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Side:            side,
		OrderType:       "LIMIT",
		Quantity:        qty,
		SubmittedPrice:  price,
		Status:          status,
		ExchangeOrderID: ack.OrderID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if status == exchange.StatusFilled || status == exchange.StatusPartialFilled {
		// A fill-confirmed trade must carry a fill price. The limit price is
		// the best local estimate; reconciliation corrects any drift from the
		// exchange-reported average.
		fill := price
		tr.FillPrice = &fill
	}
	if err := e.store.Upsert(ctx, tr); err != nil {
		// The order is live on the exchange; reconciliation will re-import it
		// from history if this write is lost.
		logx.WithContext(ctx).Errorf("execution: record trade for order %s: %v", ack.OrderID, err)
		return nil, fmt.Errorf("execution: record trade for order %s: %w", ack.OrderID, err)
	}

	logx.WithContext(ctx).Infow("order placed",
		logx.Field("symbol", symbol),
		logx.Field("side", string(side)),
		logx.Field("price", priceText),
		logx.Field("quantity", qtyText),
		logx.Field("orderId", ack.OrderID),
		logx.Field("tradeId", tr.ID),
	)

	return &Result{
		TradeID:  tr.ID,
		OrderID:  ack.OrderID,
		Price:    priceText,
		Quantity: qtyText,
		Status:   status,
	}, nil
}
