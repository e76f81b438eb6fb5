package trade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidebot/pkg/exchange"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to exchange.OrderStatus }{
		{exchange.StatusPending, exchange.StatusFilled},
		{exchange.StatusPending, exchange.StatusPartialFilled},
		{exchange.StatusPending, exchange.StatusCancelled},
		{exchange.StatusPartialFilled, exchange.StatusFilled},
		{exchange.StatusPartialFilled, exchange.StatusClosed},
		{exchange.StatusFilled, exchange.StatusClosed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to exchange.OrderStatus }{
		{exchange.StatusFilled, exchange.StatusPending},
		{exchange.StatusClosed, exchange.StatusFilled},
		{exchange.StatusCancelled, exchange.StatusPending},
		{exchange.StatusFilled, exchange.StatusFilled},
		{exchange.StatusFilled, exchange.StatusPartialFilled},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fill := 101.0
	require.NoError(t, s.Upsert(ctx, &Trade{
		ID:              "t1",
		Symbol:          "btcusdt",
		Side:            exchange.SideBuy,
		Quantity:        0.5,
		SubmittedPrice:  100,
		FillPrice:       &fill,
		Status:          exchange.StatusFilled,
		ExchangeOrderID: "ex-1",
	}))
	require.NoError(t, s.Upsert(ctx, &Trade{
		ID:             "t2",
		Symbol:         "ETHUSDT",
		Side:           exchange.SideBuy,
		Quantity:       1,
		SubmittedPrice: 3000,
		Status:         exchange.StatusCancelled,
	}))

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)

	bySymbol, err := s.OpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)

	got, err := s.ByExchangeOrderID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = s.ByExchangeOrderID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMarkClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Trade{ID: "t1", Symbol: "BTCUSDT", Status: exchange.StatusFilled}))
	require.NoError(t, s.MarkClosed(ctx, "t1", 12.5))

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := s.Since(ctx, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, exchange.StatusClosed, all[0].Status)
	require.NotNil(t, all[0].ProfitLoss)
	assert.Equal(t, 12.5, *all[0].ProfitLoss)

	assert.ErrorIs(t, s.MarkClosed(ctx, "missing", 0), ErrNotFound)
}

func TestMemoryStoreSinceFiltersSymbols(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Upsert(ctx, &Trade{ID: "a", Symbol: "BTCUSDT", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Upsert(ctx, &Trade{ID: "b", Symbol: "ETHUSDT", CreatedAt: now}))

	got, err := s.Since(ctx, now.Add(-2*time.Hour), []string{"ethusdt"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	got, err = s.Since(ctx, now.Add(-30*time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}
