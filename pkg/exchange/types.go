package exchange

import "time"

// Core spot-trading domain types shared across gateway implementations.
// Prices and quantities cross the wire as strings to avoid precision loss;
// the normalized types below carry parsed values for local computation.

// Side represents order direction.
type Side string

const (
	// SideBuy executes a buy.
	SideBuy Side = "buy"
	// SideSell executes a sell.
	SideSell Side = "sell"
)

// OrderStatus is the normalized lifecycle state of an exchange order.
type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusFilled        OrderStatus = "filled"
	StatusPartialFilled OrderStatus = "partial_filled"
	StatusCancelled     OrderStatus = "cancelled"
	StatusClosed        OrderStatus = "closed"
)

// Instrument carries the per-symbol trading rules an order must satisfy.
type Instrument struct {
	Symbol      string  // Exchange symbol as traded, e.g. "BTCUSDT"
	TickSize    float64 // Smallest permitted price increment
	StepSize    float64 // Smallest permitted quantity increment
	MinNotional float64 // Minimum allowed price*quantity per order
}

// Ticker is a point-in-time last-trade price.
type Ticker struct {
	Symbol string
	Price  float64
	At     time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// OrderRequest describes a normalized order submission. Quantity and Price
// must already be formatted to the instrument's precision rules.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          string // "limit" or "market"
	Quantity      string
	Price         string
	ClientOrderID string
}

// OrderAck is the gateway's answer to an order submission. OrderID is the
// external correlation key; an ack without one must be treated as a failure
// by callers.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	Raw           string // Verbatim gateway payload for audit
}

// OrderRecord is one entry of the exchange's authoritative order history.
type OrderRecord struct {
	OrderID      string
	Symbol       string
	Side         Side
	Price        float64 // Submitted limit price
	OrigQty      float64
	ExecutedQty  float64
	AvgFillPrice float64 // 0 when nothing has executed
	Status       OrderStatus
	UpdatedAt    time.Time
}

// Balance is one wallet asset line.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// RemainingQty reports the unexecuted portion of an order.
func (r OrderRecord) RemainingQty() float64 {
	rem := r.OrigQty - r.ExecutedQty
	if rem < 0 {
		return 0
	}
	return rem
}
