package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the decision loop.
type Config struct {
	// Symbols the loop trades, e.g. BTCUSDT.
	Symbols []string `yaml:"symbols"`
	// IntervalRaw is the cycle cadence, parsed into Interval.
	IntervalRaw string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"`
	// QuoteAmount is the quote-currency budget of each buy.
	QuoteAmount float64 `yaml:"quote_amount"`
	// TakeProfitPercent closes a filled position once its unrealized PnL
	// reaches this percentage.
	TakeProfitPercent float64 `yaml:"take_profit_percent"`
	// PriceMaxAgeRaw bounds how stale a streamed price may be before the
	// loop falls back to a REST ticker call.
	PriceMaxAgeRaw string        `yaml:"price_max_age"`
	PriceMaxAge    time.Duration `yaml:"-"`
	// EndOfDayClose enables the once-daily close of all open positions.
	EndOfDayClose bool `yaml:"end_of_day_close"`
	// EndOfDayHourUTC is the UTC hour at which the close runs. Zero selects
	// the default hour of 23.
	EndOfDayHourUTC int `yaml:"end_of_day_hour_utc"`
	// EndOfDayPremiumPercent lifts the close price above the current market
	// so the exit order rests as a maker instead of crossing the spread.
	EndOfDayPremiumPercent float64 `yaml:"end_of_day_premium_percent"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:               30 * time.Second,
		QuoteAmount:            100,
		TakeProfitPercent:      2,
		PriceMaxAge:            10 * time.Second,
		EndOfDayHourUTC:        23,
		EndOfDayPremiumPercent: 0.1,
	}
}

// LoadConfig reads loop configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open engine config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader, applying
// defaults for unset fields.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	if err := cfg.Normalise(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalise parses raw durations and fills unset fields with defaults.
func (c *Config) Normalise() error {
	def := DefaultConfig()
	if c.IntervalRaw != "" {
		d, err := time.ParseDuration(c.IntervalRaw)
		if err != nil {
			return fmt.Errorf("engine: invalid interval %q: %w", c.IntervalRaw, err)
		}
		c.Interval = d
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.PriceMaxAgeRaw != "" {
		d, err := time.ParseDuration(c.PriceMaxAgeRaw)
		if err != nil {
			return fmt.Errorf("engine: invalid price_max_age %q: %w", c.PriceMaxAgeRaw, err)
		}
		c.PriceMaxAge = d
	}
	if c.PriceMaxAge <= 0 {
		c.PriceMaxAge = def.PriceMaxAge
	}
	if c.QuoteAmount <= 0 {
		c.QuoteAmount = def.QuoteAmount
	}
	if c.TakeProfitPercent <= 0 {
		c.TakeProfitPercent = def.TakeProfitPercent
	}
	if c.EndOfDayHourUTC == 0 {
		c.EndOfDayHourUTC = def.EndOfDayHourUTC
	}
	if c.EndOfDayPremiumPercent <= 0 {
		c.EndOfDayPremiumPercent = def.EndOfDayPremiumPercent
	}
	if c.EndOfDayHourUTC < 0 || c.EndOfDayHourUTC > 23 {
		return fmt.Errorf("engine: end_of_day_hour_utc %d out of range", c.EndOfDayHourUTC)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("engine: at least one symbol is required")
	}
	return nil
}
