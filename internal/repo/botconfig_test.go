package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	enginepkg "tidebot/pkg/engine"
	"tidebot/pkg/governor"
	"tidebot/pkg/strategy"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestBotConfigApplyOverlaysSetFields(t *testing.T) {
	strat := strategy.DefaultConfig()
	gov := governor.DefaultConfig()
	eng := enginepkg.DefaultConfig()
	eng.Symbols = []string{"BTCUSDT"}

	bc := &BotConfig{
		UserID:             "u1",
		Symbols:            []string{"ETHUSDT", "SOLUSDT"},
		MaxActivePairs:     intPtr(3),
		MaxOrderAmount:     floatPtr(250),
		EntryOffsetPercent: floatPtr(0.8),
		TakeProfitPercent:  floatPtr(3.5),
		IntervalSeconds:    intPtr(60),
		EndOfDayClose:      boolPtr(true),
	}
	bc.Apply(strat, gov, eng)

	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, eng.Symbols)
	assert.Equal(t, 3, gov.MaxActiveSymbols)
	assert.Equal(t, 250.0, gov.MaxOrderAmount)
	assert.Equal(t, 250.0, eng.QuoteAmount)
	assert.Equal(t, 0.8, strat.EntryOffsetPercent)
	assert.Equal(t, 3.5, eng.TakeProfitPercent)
	assert.Equal(t, time.Minute, eng.Interval)
	assert.True(t, eng.EndOfDayClose)
}

func TestBotConfigApplyLeavesUnsetFieldsAlone(t *testing.T) {
	strat := strategy.DefaultConfig()
	gov := governor.DefaultConfig()
	eng := enginepkg.DefaultConfig()
	eng.Symbols = []string{"BTCUSDT"}

	bc := &BotConfig{UserID: "u1"}
	bc.Apply(strat, gov, eng)

	assert.Equal(t, []string{"BTCUSDT"}, eng.Symbols)
	assert.Equal(t, governor.DefaultConfig().MaxActiveSymbols, gov.MaxActiveSymbols)
	assert.Equal(t, strategy.DefaultConfig().EntryOffsetPercent, strat.EntryOffsetPercent)
	assert.Equal(t, enginepkg.DefaultConfig().TakeProfitPercent, eng.TakeProfitPercent)
}

func TestBotConfigApplyNilReceiver(t *testing.T) {
	eng := enginepkg.DefaultConfig()
	eng.Symbols = []string{"BTCUSDT"}

	var bc *BotConfig
	bc.Apply(nil, nil, eng)
	assert.Equal(t, []string{"BTCUSDT"}, eng.Symbols)
}
