package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrMetadataUnavailable indicates the gateway could not supply the trading
// rules for an instrument. Callers must not format or place an order for
// that symbol until a later fetch succeeds.
var ErrMetadataUnavailable = errors.New("exchange: instrument metadata unavailable")

// Gateway exposes the exchange capabilities the decision core consumes, in
// an exchange-agnostic fashion.
type Gateway interface {
	// Instrument metadata.
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)

	// Market data.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// Order management.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]OrderRecord, error)
	GetOpenOrders(ctx context.Context) ([]OrderRecord, error)

	// Account information.
	GetBalances(ctx context.Context) ([]Balance, error)
}
