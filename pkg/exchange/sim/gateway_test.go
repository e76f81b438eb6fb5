package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidebot/pkg/exchange"
)

func TestPlaceOrderFillsAndRecordsHistory(t *testing.T) {
	g := New()
	g.SetInstrument(exchange.Instrument{Symbol: "BTCUSDT", TickSize: 0.01, StepSize: 0.00001, MinNotional: 10})
	require.NoError(t, g.SetPrice("BTCUSDT", 42000))

	ack, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     exchange.SideBuy,
		Type:     "limit",
		Quantity: "0.001",
		Price:    "42000.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "1", ack.OrderID)
	assert.Equal(t, exchange.StatusFilled, ack.Status)

	history, err := g.GetOrderHistory(context.Background(), "btcusdt", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 0.001, history[0].ExecutedQty)
	assert.Equal(t, 42000.0, history[0].AvgFillPrice)

	balances, err := g.GetBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, defaultQuoteBalance-42.0, balances[0].Free, 1e-9)
}

func TestPlaceOrderRejectsOverdraft(t *testing.T) {
	g := New()
	_, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     exchange.SideBuy,
		Quantity: "1",
		Price:    "42000.00",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient quote balance")
}

func TestGetInstrumentMissing(t *testing.T) {
	g := New()
	_, err := g.GetInstrument(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrMetadataUnavailable)
}

func TestOpenOrdersTrackPendingStatus(t *testing.T) {
	g := New()
	g.SetFillStatus(exchange.StatusPending)

	_, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     exchange.SideBuy,
		Quantity: "0.1",
		Price:    "3000",
	})
	require.NoError(t, err)

	open, err := g.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, exchange.StatusPending, open[0].Status)
	assert.Equal(t, 0.0, open[0].ExecutedQty)
}

func TestGetCandlesHonorsLimit(t *testing.T) {
	g := New()
	candles := make([]exchange.Candle, 10)
	for i := range candles {
		candles[i] = exchange.Candle{Close: float64(i)}
	}
	g.SetCandles("BTCUSDT", candles)

	got, err := g.GetCandles(context.Background(), "BTCUSDT", "1h", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 7.0, got[0].Close)
}
