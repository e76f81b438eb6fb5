package strategy

import (
	"fmt"
	"math"

	"tidebot/pkg/exchange"
)

// SupportLevel is a detected price level with repeated buying interest.
type SupportLevel struct {
	Level    float64 // Mean of the lows that touched the level
	Touches  int     // Number of candles whose low reached the level
	Strength float64 // Touch count and recency, normalized to [0,1]
}

// touchesForFullScore is the touch count treated as maximum conviction.
const touchesForFullScore = 5

// DetectSupport scans candle lows for the strongest level below the current
// price. Lows within tolerancePercent of each other count as touches of the
// same level. Returns nil when no level with at least two touches exists.
func DetectSupport(candles []exchange.Candle, currentPrice, tolerancePercent float64) (*SupportLevel, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("strategy: need at least 2 candles, got %d", len(candles))
	}
	if !(currentPrice > 0) {
		return nil, fmt.Errorf("strategy: current price %v must be positive", currentPrice)
	}
	if tolerancePercent <= 0 {
		tolerancePercent = 0.25
	}

	type bucket struct {
		sum      float64
		touches  int
		lastIdx  int
		firstLow float64
	}

	var buckets []*bucket
	for i, c := range candles {
		low := c.Low
		if !(low > 0) || math.IsNaN(low) || math.IsInf(low, 0) {
			continue
		}
		placed := false
		for _, b := range buckets {
			anchor := b.firstLow
			if math.Abs(low-anchor)/anchor*100 <= tolerancePercent {
				b.sum += low
				b.touches++
				b.lastIdx = i
				placed = true
				break
			}
		}
		if !placed {
			buckets = append(buckets, &bucket{sum: low, touches: 1, lastIdx: i, firstLow: low})
		}
	}

	n := len(candles)
	var best *SupportLevel
	for _, b := range buckets {
		if b.touches < 2 {
			continue
		}
		level := b.sum / float64(b.touches)
		if level >= currentPrice {
			continue
		}
		touchScore := math.Min(1, float64(b.touches)/touchesForFullScore)
		recencyScore := float64(b.lastIdx) / float64(n-1)
		strength := touchScore*0.7 + recencyScore*0.3
		if best == nil || strength > best.Strength {
			best = &SupportLevel{Level: level, Touches: b.touches, Strength: strength}
		}
	}
	return best, nil
}
