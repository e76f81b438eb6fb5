package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidebot/pkg/exchange"
	"tidebot/pkg/exchange/sim"
	"tidebot/pkg/execution"
	"tidebot/pkg/governor"
	"tidebot/pkg/instrument"
	"tidebot/pkg/journal"
	"tidebot/pkg/precision"
	"tidebot/pkg/strategy"
	"tidebot/pkg/trade"
)

// supportCandles builds a series whose lows repeatedly touch the given
// level, with later candles trading above it.
func supportCandles(level float64, touches, total int) []exchange.Candle {
	candles := make([]exchange.Candle, total)
	for i := range candles {
		low := level * (1.03 + 0.001*float64(i))
		if i%max(total/touches, 1) == 0 && i/max(total/touches, 1) < touches {
			low = level
		}
		candles[i] = exchange.Candle{
			Open:  low * 1.01,
			High:  low * 1.02,
			Low:   low,
			Close: low * 1.015,
		}
	}
	return candles
}

type fixture struct {
	engine  *Engine
	gateway *sim.Gateway
	store   *trade.MemoryStore
	gov     *governor.Governor
}

func newFixture(t *testing.T, govCfg *governor.Config, log *journal.Writer) *fixture {
	t.Helper()
	gw := sim.New()
	gw.SetInstrument(exchange.Instrument{
		Symbol:      "BTCUSDT",
		TickSize:    0.01,
		StepSize:    0.001,
		MinNotional: 10,
	})
	store := trade.NewMemoryStore()
	formatter := precision.NewFormatter(instrument.NewCatalog(gw))
	stratCfg := strategy.DefaultConfig()
	gen := strategy.NewGenerator(formatter, stratCfg)
	gov := governor.New(store, nil, govCfg)
	ex := execution.New(gw, formatter, store)

	cfg := &Config{
		Symbols:     []string{"BTCUSDT"},
		QuoteAmount: 500,
	}
	require.NoError(t, cfg.Normalise())

	return &fixture{
		engine:  New(cfg, gw, gen, stratCfg, gov, ex, store, nil, nil, log),
		gateway: gw,
		store:   store,
		gov:     gov,
	}
}

func TestCycleAcceptsEntrySignal(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 104))
	f.gateway.SetCandles("BTCUSDT", supportCandles(100, 5, 128))

	f.engine.RunCycle(context.Background())

	open, err := f.store.OpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, exchange.SideBuy, open[0].Side)
	assert.Equal(t, 100.50, open[0].SubmittedPrice)
	assert.Equal(t, exchange.StatusFilled, open[0].Status)
}

func TestCycleSuppressesDuplicateAveraging(t *testing.T) {
	// The default 0.5% closeness threshold catches the averaging entry,
	// which sits exactly 0.5% below the last fill.
	f := newFixture(t, nil, nil)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 104))
	f.gateway.SetCandles("BTCUSDT", supportCandles(100, 5, 128))

	ctx := context.Background()
	f.engine.RunCycle(ctx)
	f.engine.RunCycle(ctx)

	open, err := f.store.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestCycleAveragesDownThenHitsPositionCap(t *testing.T) {
	f := newFixture(t, &governor.Config{
		MaxActiveSymbols:      5,
		MaxPositionsPerSymbol: 2,
		PriceClosenessPercent: 0.3,
	}, nil)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 104))
	f.gateway.SetCandles("BTCUSDT", supportCandles(100, 5, 128))

	ctx := context.Background()
	f.engine.RunCycle(ctx) // entry at 100.50
	f.engine.RunCycle(ctx) // averaging at 100.00

	open, err := f.store.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)

	f.engine.RunCycle(ctx) // capped at two positions per symbol
	open, err = f.store.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestCycleTakesProfit(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 103))
	// Support far below keeps the cycle from opening a replacement position.
	f.gateway.SetCandles("BTCUSDT", supportCandles(90, 5, 128))

	ctx := context.Background()
	fill := 100.0
	require.NoError(t, f.store.Upsert(ctx, &trade.Trade{
		ID:              "t1",
		Symbol:          "BTCUSDT",
		Side:            exchange.SideBuy,
		Quantity:        2,
		SubmittedPrice:  100,
		FillPrice:       &fill,
		Status:          exchange.StatusFilled,
		ExchangeOrderID: "ex-1",
	}))

	f.engine.RunCycle(ctx)

	open, err := f.store.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := f.store.Since(ctx, time.Time{}, nil)
	require.NoError(t, err)
	var closed, sellLeg *trade.Trade
	for i := range all {
		switch {
		case all[i].ID == "t1":
			closed = &all[i]
		case all[i].Side == exchange.SideSell:
			sellLeg = &all[i]
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, exchange.StatusClosed, closed.Status)
	require.NotNil(t, closed.ProfitLoss)
	assert.InDelta(t, 6.0, *closed.ProfitLoss, 1e-9)

	// The filled exit leg is finalized too; it must not linger as an open
	// position consuming governor slots.
	require.NotNil(t, sellLeg)
	assert.Equal(t, exchange.StatusClosed, sellLeg.Status)

	hist, err := f.gateway.GetOrderHistory(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, exchange.SideSell, hist[0].Side)
	assert.Equal(t, 103.0, hist[0].Price)
}

func TestCycleSkipsSymbolInFlight(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 104))
	f.gateway.SetCandles("BTCUSDT", supportCandles(100, 5, 128))

	require.True(t, f.gov.TryAcquire("BTCUSDT"))
	defer f.gov.Release("BTCUSDT")

	f.engine.RunCycle(context.Background())

	open, err := f.store.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCycleWritesJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.journal")
	log, err := journal.Open(path)
	require.NoError(t, err)

	f := newFixture(t, nil, log)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 104))
	f.gateway.SetCandles("BTCUSDT", supportCandles(100, 5, 128))

	f.engine.RunCycle(context.Background())
	require.NoError(t, log.Close())

	entries, err := journal.Read(path)
	require.NoError(t, err)
	kinds := make(map[string]int)
	for _, e := range entries {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[journal.KindSignal])
	assert.Equal(t, 1, kinds[journal.KindOrder])
}

func TestEndOfDayCloseRunsOncePerDay(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.engine.cfg.EndOfDayClose = true
	f.engine.cfg.EndOfDayHourUTC = 23
	now := time.Date(2026, 8, 31, 23, 5, 0, 0, time.UTC)
	f.engine.SetClock(func() time.Time { return now })

	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 100))
	f.gateway.SetCandles("BTCUSDT", supportCandles(90, 5, 128))

	ctx := context.Background()
	fill := 100.0
	require.NoError(t, f.store.Upsert(ctx, &trade.Trade{
		ID:              "t1",
		Symbol:          "BTCUSDT",
		Side:            exchange.SideBuy,
		Quantity:        2,
		SubmittedPrice:  100,
		FillPrice:       &fill,
		Status:          exchange.StatusFilled,
		ExchangeOrderID: "ex-1",
	}))

	f.engine.RunCycle(ctx)

	open, err := f.store.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	hist, err := f.gateway.GetOrderHistory(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, exchange.SideSell, hist[0].Side)
	// Exit rests 0.1% above the market.
	assert.InDelta(t, 100.1, hist[0].Price, 1e-9)

	// A later cycle in the same hour does not close again.
	now = now.Add(10 * time.Minute)
	f.engine.RunCycle(ctx)
	hist, err = f.gateway.GetOrderHistory(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestCloseSymbol(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 101))

	ctx := context.Background()
	fill := 100.0
	require.NoError(t, f.store.Upsert(ctx, &trade.Trade{
		ID:              "t1",
		Symbol:          "BTCUSDT",
		Side:            exchange.SideBuy,
		Quantity:        1,
		SubmittedPrice:  100,
		FillPrice:       &fill,
		Status:          exchange.StatusFilled,
		ExchangeOrderID: "ex-1",
	}))

	closed, err := f.engine.CloseSymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	open, err := f.store.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.engine.cfg.Interval = 10 * time.Millisecond
	require.NoError(t, f.gateway.SetPrice("BTCUSDT", 104))
	f.gateway.SetCandles("BTCUSDT", supportCandles(100, 5, 128))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}

func TestConfigNormalise(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTCUSDT"}, IntervalRaw: "45s"}
	require.NoError(t, cfg.Normalise())
	assert.Equal(t, 45*time.Second, cfg.Interval)
	assert.Equal(t, 100.0, cfg.QuoteAmount)
	assert.Equal(t, 2.0, cfg.TakeProfitPercent)
	assert.Equal(t, 23, cfg.EndOfDayHourUTC)
	assert.Equal(t, 0.1, cfg.EndOfDayPremiumPercent)

	cfg = &Config{Symbols: []string{"BTCUSDT"}, IntervalRaw: "bogus"}
	require.Error(t, cfg.Normalise())

	cfg = &Config{}
	require.Error(t, cfg.Normalise())
}
