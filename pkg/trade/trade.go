// Package trade defines the local trade record, its lifecycle state machine
// and the persistence contract shared by the decision core.
package trade

import (
	"time"

	"tidebot/pkg/exchange"
)

// Trade is one locally tracked order. The execution pipeline creates pending
// trades; gateway polling and reconciliation transition status and set the
// fill price; a close action or reconciliation sets ProfitLoss.
type Trade struct {
	ID              string
	Symbol          string
	Side            exchange.Side
	OrderType       string
	Quantity        float64
	SubmittedPrice  float64
	FillPrice       *float64 // Set only once the exchange reports a fill
	Status          exchange.OrderStatus
	ProfitLoss      *float64 // Realized outcome, meaningful only when closed/cancelled
	ExchangeOrderID string   // External correlation key, unique per exchange
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen reports whether the trade still counts toward position exposure.
func (t *Trade) IsOpen() bool {
	switch t.Status {
	case exchange.StatusPending, exchange.StatusFilled, exchange.StatusPartialFilled:
		return true
	}
	return false
}

// IsTerminal reports whether the trade has reached a final state.
func IsTerminal(status exchange.OrderStatus) bool {
	return status == exchange.StatusClosed || status == exchange.StatusCancelled
}

// CanTransition reports whether the status state machine permits moving a
// trade from one state to another. Transitions are monotonic; terminal
// states never change.
func CanTransition(from, to exchange.OrderStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case exchange.StatusPending:
		return to == exchange.StatusFilled || to == exchange.StatusPartialFilled || to == exchange.StatusCancelled
	case exchange.StatusPartialFilled:
		return to == exchange.StatusFilled || to == exchange.StatusClosed
	case exchange.StatusFilled:
		return to == exchange.StatusClosed
	default:
		return false
	}
}
