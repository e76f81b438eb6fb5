package strategy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config tunes support detection and entry filtering.
type Config struct {
	// SupportCandleCount is the lookback window of candles inspected for
	// support levels.
	SupportCandleCount int `yaml:"support_candle_count"`
	// TouchTolerancePercent groups candle lows within this distance of each
	// other into one candidate level.
	TouchTolerancePercent float64 `yaml:"touch_tolerance_percent"`
	// EntryOffsetPercent shifts the proposed entry above the support level.
	EntryOffsetPercent float64 `yaml:"entry_offset_percent"`
	// SupportLowerBoundPercent / SupportUpperBoundPercent bound how far below
	// the current price an acceptable entry may sit, in percent.
	SupportLowerBoundPercent float64 `yaml:"support_lower_bound_percent"`
	SupportUpperBoundPercent float64 `yaml:"support_upper_bound_percent"`
	// MinStrength rejects candidate levels below this confidence.
	MinStrength float64 `yaml:"min_strength"`
	// AveragingConfidence caps the confidence assigned to averaging-down
	// signals, which follow the last fill instead of a fresh support level.
	AveragingConfidence float64 `yaml:"averaging_confidence"`
	// MaxPriceDriftPercent rejects a signal whose tick-formatted price moved
	// further than this from the raw proposal.
	MaxPriceDriftPercent float64 `yaml:"max_price_drift_percent"`
	// CandleInterval is the kline interval fed into support detection.
	CandleInterval string `yaml:"candle_interval"`
}

// DefaultConfig returns the strategy defaults.
func DefaultConfig() *Config {
	return &Config{
		SupportCandleCount:       128,
		TouchTolerancePercent:    0.25,
		EntryOffsetPercent:       0.5,
		SupportLowerBoundPercent: 2,
		SupportUpperBoundPercent: 5,
		MinStrength:              0.3,
		AveragingConfidence:      0.7,
		MaxPriceDriftPercent:     0.01,
		CandleInterval:           "1h",
	}
}

// LoadConfig reads strategy configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open strategy config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader, applying
// defaults for unset fields.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal strategy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.SupportCandleCount <= 0 {
		return fmt.Errorf("strategy config: support_candle_count must be positive")
	}
	if c.TouchTolerancePercent <= 0 {
		return fmt.Errorf("strategy config: touch_tolerance_percent must be positive")
	}
	if c.SupportLowerBoundPercent < 0 || c.SupportUpperBoundPercent <= c.SupportLowerBoundPercent {
		return fmt.Errorf("strategy config: support bounds invalid (lower=%v upper=%v)",
			c.SupportLowerBoundPercent, c.SupportUpperBoundPercent)
	}
	if c.MinStrength < 0 || c.MinStrength > 1 {
		return fmt.Errorf("strategy config: min_strength must be in [0,1]")
	}
	if c.AveragingConfidence < 0 || c.AveragingConfidence > 1 {
		return fmt.Errorf("strategy config: averaging_confidence must be in [0,1]")
	}
	if c.MaxPriceDriftPercent <= 0 {
		return fmt.Errorf("strategy config: max_price_drift_percent must be positive")
	}
	if c.CandleInterval == "" {
		return fmt.Errorf("strategy config: candle_interval is required")
	}
	return nil
}
