package governor

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads governor configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open governor config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader, applying
// defaults for unset fields.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read governor config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal governor config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the limits are internally consistent.
func (c *Config) Validate() error {
	if c.MaxActiveSymbols < 0 {
		return fmt.Errorf("governor config: max_active_symbols must not be negative")
	}
	if c.MaxPositionsPerSymbol < 0 {
		return fmt.Errorf("governor config: max_positions_per_symbol must not be negative")
	}
	if c.MaxExposurePercent < 0 || c.MaxExposurePercent > 100 {
		return fmt.Errorf("governor config: max_exposure_percent must be in [0,100]")
	}
	if c.PriceClosenessPercent < 0 {
		return fmt.Errorf("governor config: price_closeness_percent must not be negative")
	}
	if c.MaxExposurePercent > 0 && c.MaxOrderAmount <= 0 {
		return fmt.Errorf("governor config: max_order_amount is required when max_exposure_percent is set")
	}
	return nil
}
