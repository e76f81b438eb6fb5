// Package pnl computes unrealized profit and loss for locally tracked
// trades. Only trades with an actual fill carry PnL; a resting order has no
// position and therefore no outcome yet.
package pnl

import (
	"math"

	"github.com/zeromicro/go-zero/core/logx"

	"tidebot/pkg/exchange"
	"tidebot/pkg/trade"
)

// Compute returns the unrealized PnL of a trade at the given market price,
// in quote currency. Only fully filled trades carry live PnL; pending,
// partially filled, cancelled and closed trades return 0, as do trades with
// unusable prices or quantities.
func Compute(t *trade.Trade, currentPrice float64) float64 {
	if t == nil || !hasFill(t.Status) {
		return 0
	}
	entry := effectiveEntry(t)
	if !valid(entry) || !valid(currentPrice) || !valid(t.Quantity) {
		logx.Infof("pnl: trade %s has unusable inputs (entry=%v current=%v qty=%v)",
			t.ID, entry, currentPrice, t.Quantity)
		return 0
	}
	switch t.Side {
	case exchange.SideBuy:
		return (currentPrice - entry) * t.Quantity
	case exchange.SideSell:
		return (entry - currentPrice) * t.Quantity
	}
	return 0
}

// ComputePercent returns the unrealized PnL as a percentage of the entry
// notional. Trades without PnL return 0.
func ComputePercent(t *trade.Trade, currentPrice float64) float64 {
	if t == nil || !hasFill(t.Status) {
		return 0
	}
	entry := effectiveEntry(t)
	if !valid(entry) || !valid(currentPrice) || !valid(t.Quantity) {
		return 0
	}
	notional := entry * t.Quantity
	if notional == 0 {
		return 0
	}
	return Compute(t, currentPrice) / notional * 100
}

// effectiveEntry prefers the exchange-reported fill price and falls back to
// the submitted limit price when the fill price was never captured.
func effectiveEntry(t *trade.Trade) float64 {
	if t.FillPrice != nil && *t.FillPrice > 0 {
		return *t.FillPrice
	}
	return t.SubmittedPrice
}

func hasFill(status exchange.OrderStatus) bool {
	return status == exchange.StatusFilled
}

func valid(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
