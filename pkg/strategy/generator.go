package strategy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"tidebot/pkg/exchange"
	"tidebot/pkg/precision"
)

// Signal is a proposed entry produced by the generator. Price carries the
// tick-formatted value actually submittable to the exchange.
type Signal struct {
	ID         string
	Symbol     string
	Side       exchange.Side
	Price      float64
	PriceText  string
	Confidence float64 // Soft strength indicator in [0,1], not a probability
	Reason     string
	CreatedAt  time.Time
	Processed  bool
}

// Store persists signals and their processed flag.
type Store interface {
	Insert(ctx context.Context, sig *Signal) error
	MarkProcessed(ctx context.Context, id string) error
}

// Generator proposes buy entries from support levels in recent price action.
type Generator struct {
	formatter *precision.Formatter
	cfg       *Config
	clock     func() time.Time
}

// NewGenerator constructs a Generator. A nil cfg uses defaults.
func NewGenerator(formatter *precision.Formatter, cfg *Config) *Generator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Generator{formatter: formatter, cfg: cfg, clock: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (g *Generator) SetClock(clock func() time.Time) { g.clock = clock }

// EntrySignal derives a buy candidate for a symbol from its recent candles.
// A nil signal with nil error means no acceptable entry exists right now.
func (g *Generator) EntrySignal(ctx context.Context, symbol string, currentPrice float64, candles []exchange.Candle) (*Signal, error) {
	if !(currentPrice > 0) {
		return nil, fmt.Errorf("strategy: current price %v must be positive", currentPrice)
	}
	window := candles
	if len(window) > g.cfg.SupportCandleCount {
		window = window[len(window)-g.cfg.SupportCandleCount:]
	}

	support, err := DetectSupport(window, currentPrice, g.cfg.TouchTolerancePercent)
	if err != nil {
		return nil, err
	}
	if support == nil {
		logx.WithContext(ctx).Debugf("strategy: %s no support level in %d candles", symbol, len(window))
		return nil, nil
	}
	if support.Strength < g.cfg.MinStrength {
		logx.WithContext(ctx).Debugf("strategy: %s support strength %.2f below minimum %.2f",
			symbol, support.Strength, g.cfg.MinStrength)
		return nil, nil
	}

	entry := support.Level * (1 + g.cfg.EntryOffsetPercent/100)
	reason := fmt.Sprintf("support %.8g touched %d times (strength %.2f), entry offset %.2f%%",
		support.Level, support.Touches, support.Strength, g.cfg.EntryOffsetPercent)

	return g.buildSignal(ctx, symbol, currentPrice, entry, support.Strength, reason)
}

// AveragingSignal proposes a follow-up buy for a symbol that already has an
// open position, anchored to the most recent fill price instead of a fresh
// support level. Conviction is capped by configuration.
func (g *Generator) AveragingSignal(ctx context.Context, symbol string, currentPrice, lastFillPrice float64) (*Signal, error) {
	if !(currentPrice > 0) || !(lastFillPrice > 0) {
		return nil, fmt.Errorf("strategy: prices must be positive (current=%v lastFill=%v)", currentPrice, lastFillPrice)
	}

	entry := lastFillPrice * (1 - g.cfg.EntryOffsetPercent/100)
	reason := fmt.Sprintf("averaging down from last fill %.8g, offset %.2f%%",
		lastFillPrice, g.cfg.EntryOffsetPercent)

	return g.buildSignal(ctx, symbol, currentPrice, entry, g.cfg.AveragingConfidence, reason)
}

// buildSignal applies the shared distance window, precision formatting and
// drift checks, returning nil when the candidate is filtered out.
func (g *Generator) buildSignal(ctx context.Context, symbol string, currentPrice, rawEntry, confidence float64, reason string) (*Signal, error) {
	distancePct := (currentPrice - rawEntry) / currentPrice * 100
	if distancePct < g.cfg.SupportLowerBoundPercent || distancePct > g.cfg.SupportUpperBoundPercent {
		logx.WithContext(ctx).Debugf("strategy: %s entry %.8g is %.2f%% below price, outside [%.2f%%, %.2f%%]",
			symbol, rawEntry, distancePct, g.cfg.SupportLowerBoundPercent, g.cfg.SupportUpperBoundPercent)
		return nil, nil
	}

	priceText, err := g.formatter.FormatPrice(ctx, symbol, rawEntry)
	if err != nil {
		return nil, fmt.Errorf("strategy: format entry for %s: %w", symbol, err)
	}
	formatted, err := strconv.ParseFloat(priceText, 64)
	if err != nil {
		return nil, fmt.Errorf("strategy: parse formatted entry %q: %w", priceText, err)
	}
	if drift := math.Abs(formatted-rawEntry) / rawEntry * 100; drift > g.cfg.MaxPriceDriftPercent {
		logx.WithContext(ctx).Infof("strategy: %s rejected, tick rounding moved entry %.4f%% (raw=%.8g formatted=%s)",
			symbol, drift, rawEntry, priceText)
		return nil, nil
	}

	if confidence > 1 {
		confidence = 1
	}
	return &Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       exchange.SideBuy,
		Price:      formatted,
		PriceText:  priceText,
		Confidence: confidence,
		Reason:     reason,
		CreatedAt:  g.clock(),
	}, nil
}
