package governor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidebot/pkg/exchange"
	"tidebot/pkg/exchange/sim"
	"tidebot/pkg/trade"
)

func openTrade(id, symbol string, price, qty float64) *trade.Trade {
	return &trade.Trade{
		ID:             id,
		Symbol:         symbol,
		Side:           exchange.SideBuy,
		Quantity:       qty,
		SubmittedPrice: price,
		Status:         exchange.StatusFilled,
	}
}

func TestCanPlaceAllowsFreshSymbol(t *testing.T) {
	store := trade.NewMemoryStore()
	g := New(store, nil, nil)

	d, err := g.CanPlace(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestCanPlaceRejectsDuplicatePrice(t *testing.T) {
	store := trade.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, openTrade("t1", "BTCUSDT", 100, 1)))

	g := New(store, nil, &Config{
		MaxActiveSymbols:      5,
		MaxPositionsPerSymbol: 3,
		PriceClosenessPercent: 0.5,
	})

	// 100.40 is 0.4% from the open trade at 100: inside the threshold.
	d, err := g.CanPlace(ctx, "BTCUSDT", 100.40)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "duplicate order suppressed")

	// 101 is 1% away: far enough.
	d, err = g.CanPlace(ctx, "BTCUSDT", 101)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanPlaceRejectsPerSymbolLimit(t *testing.T) {
	store := trade.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, openTrade("t1", "BTCUSDT", 100, 1)))
	require.NoError(t, store.Upsert(ctx, openTrade("t2", "BTCUSDT", 110, 1)))

	g := New(store, nil, nil)

	d, err := g.CanPlace(ctx, "BTCUSDT", 120)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "max positions per symbol")
}

func TestCanPlaceRejectsSymbolCountLimit(t *testing.T) {
	store := trade.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("SYM%dUSDT", i)
		require.NoError(t, store.Upsert(ctx, openTrade(sym, sym, 100, 1)))
	}

	g := New(store, nil, nil)

	d, err := g.CanPlace(ctx, "NEWUSDT", 50)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "max active symbols reached (5/5)")

	// An already-active symbol is not blocked by the symbol-count limit.
	d, err = g.CanPlace(ctx, "SYM0USDT", 200)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanPlaceIgnoresClosedTrades(t *testing.T) {
	store := trade.NewMemoryStore()
	ctx := context.Background()
	tr := openTrade("t1", "BTCUSDT", 100, 1)
	tr.Status = exchange.StatusCancelled
	require.NoError(t, store.Upsert(ctx, tr))

	g := New(store, nil, &Config{MaxPositionsPerSymbol: 1, PriceClosenessPercent: 0.5})

	d, err := g.CanPlace(ctx, "BTCUSDT", 100)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanPlaceExposureLimit(t *testing.T) {
	store := trade.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, openTrade("t1", "ETHUSDT", 100, 10)))

	gw := sim.New()

	// Equity = 10000 paper quote + 1000 open notional. Projected exposure
	// (1000+500)/11000 = 13.6% over a 10% cap.
	g := New(store, gw, &Config{
		MaxActiveSymbols:      5,
		MaxPositionsPerSymbol: 2,
		MaxExposurePercent:    10,
		MaxOrderAmount:        500,
		QuoteAsset:            "USDT",
	})
	d, err := g.CanPlace(ctx, "BTCUSDT", 100)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "max exposure exceeded")

	g = New(store, gw, &Config{
		MaxActiveSymbols:      5,
		MaxPositionsPerSymbol: 2,
		MaxExposurePercent:    50,
		MaxOrderAmount:        500,
		QuoteAsset:            "USDT",
	})
	d, err = g.CanPlace(ctx, "BTCUSDT", 100)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanPlaceRejectsNonPositivePrice(t *testing.T) {
	g := New(trade.NewMemoryStore(), nil, nil)
	_, err := g.CanPlace(context.Background(), "BTCUSDT", 0)
	require.Error(t, err)
}

func TestInFlightGuard(t *testing.T) {
	g := New(trade.NewMemoryStore(), nil, nil)

	require.True(t, g.TryAcquire("btcusdt"))
	assert.False(t, g.TryAcquire("BTCUSDT"))
	assert.True(t, g.TryAcquire("ETHUSDT"))

	g.Release("BTCUSDT")
	assert.True(t, g.TryAcquire("btcusdt"))
}
