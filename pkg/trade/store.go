package trade

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a trade lookup matched nothing.
var ErrNotFound = errors.New("trade: not found")

// Store persists trades. Implementations must support concurrent reads with
// last-writer-wins update semantics; the decision loop, reconciliation and
// display paths write disjoint fields.
type Store interface {
	// Upsert inserts the trade or replaces the stored record with the same ID.
	Upsert(ctx context.Context, t *Trade) error
	// OpenTrades returns all trades still counting toward exposure.
	OpenTrades(ctx context.Context) ([]Trade, error)
	// OpenBySymbol returns open trades for one symbol, newest first.
	OpenBySymbol(ctx context.Context, symbol string) ([]Trade, error)
	// ByExchangeOrderID resolves a trade by its external correlation key.
	// Returns ErrNotFound when absent.
	ByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*Trade, error)
	// Since returns trades created at or after the given time, optionally
	// restricted to a symbol set.
	Since(ctx context.Context, since time.Time, symbols []string) ([]Trade, error)
	// MarkClosed finalizes a trade with its realized profit or loss.
	MarkClosed(ctx context.Context, id string, profitLoss float64) error
}
