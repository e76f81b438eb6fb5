package strategy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidebot/pkg/exchange"
	"tidebot/pkg/exchange/sim"
	"tidebot/pkg/instrument"
	"tidebot/pkg/precision"
)

// candlesWithSupport builds a series whose lows repeatedly touch the given
// level, with later candles trading above it.
func candlesWithSupport(level float64, touches, total int) []exchange.Candle {
	candles := make([]exchange.Candle, total)
	for i := range candles {
		// Noise lows rise steadily so they never pile up into a level of
		// their own.
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

func newGenerator(t *testing.T, cfg *Config) *Generator {
	t.Helper()
	gw := sim.New()
	gw.SetInstrument(exchange.Instrument{Symbol: "BTCUSDT", TickSize: 0.01, StepSize: 0.00001, MinNotional: 10})
	formatter := precision.NewFormatter(instrument.NewCatalog(gw))
	return NewGenerator(formatter, cfg)
}

func TestDetectSupportFindsRepeatedTouches(t *testing.T) {
	candles := candlesWithSupport(100, 4, 64)
	support, err := DetectSupport(candles, 104, 0.25)
	require.NoError(t, err)
	require.NotNil(t, support)
	assert.InDelta(t, 100, support.Level, 0.01)
	assert.GreaterOrEqual(t, support.Touches, 4)
	assert.Greater(t, support.Strength, 0.3)
	assert.LessOrEqual(t, support.Strength, 1.0)
}

func TestDetectSupportIgnoresLevelsAbovePrice(t *testing.T) {
	candles := candlesWithSupport(100, 4, 64)
	support, err := DetectSupport(candles, 99, 0.25)
	require.NoError(t, err)
	assert.Nil(t, support)
}

func TestDetectSupportNeedsCandles(t *testing.T) {
	_, err := DetectSupport(nil, 100, 0.25)
	assert.Error(t, err)
}

func TestEntrySignalAcceptedWithinWindow(t *testing.T) {
	gen := newGenerator(t, nil)
	candles := candlesWithSupport(100, 5, 128)

	// Entry = 100 * 1.005 = 100.5; at price 104 the distance is ~3.37%,
	// inside the default 2-5% window.
	sig, err := gen.EntrySignal(context.Background(), "BTCUSDT", 104, candles)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, exchange.SideBuy, sig.Side)
	assert.Equal(t, "100.50", sig.PriceText)
	assert.Equal(t, 100.50, sig.Price)
	assert.NotEmpty(t, sig.ID)
	assert.True(t, strings.Contains(sig.Reason, "support"))
	assert.Greater(t, sig.Confidence, 0.3)
}

func TestEntrySignalRejectedOutsideWindow(t *testing.T) {
	gen := newGenerator(t, nil)
	candles := candlesWithSupport(100, 5, 128)

	// Price barely above the entry: distance below the 2% lower bound.
	sig, err := gen.EntrySignal(context.Background(), "BTCUSDT", 101, candles)
	require.NoError(t, err)
	assert.Nil(t, sig)

	// Price far above the entry: distance beyond the 5% upper bound.
	sig, err = gen.EntrySignal(context.Background(), "BTCUSDT", 120, candles)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEntrySignalRejectedOnWeakSupport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinStrength = 0.99
	gen := newGenerator(t, cfg)
	candles := candlesWithSupport(100, 2, 128)

	sig, err := gen.EntrySignal(context.Background(), "BTCUSDT", 104, candles)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEntrySignalRejectedOnCoarseTick(t *testing.T) {
	gw := sim.New()
	// Tick of 5 forces the 100.5 entry to format as 100, a 0.5% drift.
	gw.SetInstrument(exchange.Instrument{Symbol: "BTCUSDT", TickSize: 5, StepSize: 0.001, MinNotional: 10})
	gen := NewGenerator(precision.NewFormatter(instrument.NewCatalog(gw)), nil)
	candles := candlesWithSupport(100, 5, 128)

	sig, err := gen.EntrySignal(context.Background(), "BTCUSDT", 104, candles)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEntrySignalMetadataUnavailable(t *testing.T) {
	gen := NewGenerator(precision.NewFormatter(instrument.NewCatalog(sim.New())), nil)
	candles := candlesWithSupport(100, 5, 128)

	_, err := gen.EntrySignal(context.Background(), "BTCUSDT", 104, candles)
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrMetadataUnavailable)
}

func TestAveragingSignalCapsConfidence(t *testing.T) {
	gen := newGenerator(t, nil)

	// Entry = 104 * 0.995 = 103.48; price 107 puts it ~3.29% below, inside
	// the window.
	sig, err := gen.AveragingSignal(context.Background(), "BTCUSDT", 107, 104)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, 0.7, sig.Confidence)
	assert.True(t, strings.Contains(sig.Reason, "averaging"))
}

func TestAveragingSignalOutsideWindow(t *testing.T) {
	gen := newGenerator(t, nil)

	sig, err := gen.AveragingSignal(context.Background(), "BTCUSDT", 103.6, 104)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader("entry_offset_percent: 1.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.EntryOffsetPercent)
	assert.Equal(t, 128, cfg.SupportCandleCount)
	assert.Equal(t, 0.7, cfg.AveragingConfidence)

	_, err = LoadConfigFromReader(strings.NewReader("support_upper_bound_percent: 1\nsupport_lower_bound_percent: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "support bounds")
}
