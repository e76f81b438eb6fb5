package exchange

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures configuration for one or more exchange gateways.
type Config struct {
	Default  string                    `yaml:"default"`
	Gateways map[string]*GatewayConfig `yaml:"gateways"`
}

// GatewayConfig describes how to construct a specific gateway instance.
type GatewayConfig struct {
	Type      string `yaml:"type"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`

	// RequestsPerSecond bounds outbound REST calls; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// GatewayBuilder constructs a Gateway from configuration.
type GatewayBuilder func(name string, cfg *GatewayConfig) (Gateway, error)

var (
	gatewayRegistry   = make(map[string]GatewayBuilder)
	gatewayRegistryMu sync.RWMutex
)

// RegisterGateway associates a builder with a gateway type.
func RegisterGateway(typeName string, builder GatewayBuilder) {
	gatewayRegistryMu.Lock()
	defer gatewayRegistryMu.Unlock()
	gatewayRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupGatewayBuilder(typeName string) (GatewayBuilder, bool) {
	gatewayRegistryMu.RLock()
	defer gatewayRegistryMu.RUnlock()
	builder, ok := gatewayRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// GetGateway constructs a single gateway for the given type using the
// provided configuration. Convenience for tests and callers that do not want
// a full config map.
func GetGateway(typeName string, cfg *GatewayConfig) (Gateway, error) {
	if cfg == nil {
		cfg = &GatewayConfig{}
	}
	cfgCopy := *cfg
	cfgCopy.Type = typeName
	if err := cfgCopy.validate("inline"); err != nil {
		return nil, err
	}
	builder, ok := lookupGatewayBuilder(cfgCopy.Type)
	if !ok {
		return nil, fmt.Errorf("exchange gateway: unsupported type %q", cfgCopy.Type)
	}
	return builder("inline", &cfgCopy)
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exchange config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read exchange config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal exchange config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Gateways == nil {
		c.Gateways = make(map[string]*GatewayConfig)
	}
	for name, gw := range c.Gateways {
		if gw == nil {
			gw = &GatewayConfig{}
			c.Gateways[name] = gw
		}
		gw.expandEnv()
		if err := gw.parseDurations(name); err != nil {
			return err
		}
	}
	return nil
}

func (g *GatewayConfig) expandEnv() {
	g.Type = strings.TrimSpace(os.ExpandEnv(g.Type))
	g.APIKey = strings.TrimSpace(os.ExpandEnv(g.APIKey))
	g.APISecret = strings.TrimSpace(os.ExpandEnv(g.APISecret))
	g.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(g.TimeoutRaw))
}

func (g *GatewayConfig) parseDurations(name string) error {
	if g.TimeoutRaw == "" {
		g.Timeout = 0
		return nil
	}
	d, err := time.ParseDuration(g.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("exchange gateway %s: invalid timeout %q: %w", name, g.TimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("exchange gateway %s: timeout must be positive, got %s", name, d)
	}
	g.Timeout = d
	return nil
}

// Validate ensures all gateways have sane configuration.
func (c *Config) Validate() error {
	if len(c.Gateways) == 0 {
		return fmt.Errorf("exchange config: gateways cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Gateways[c.Default]; !ok {
			return fmt.Errorf("exchange config: default gateway %q not defined", c.Default)
		}
	}

	for name, gw := range c.Gateways {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("exchange config: gateway name cannot be empty")
		}
		if err := gw.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (g *GatewayConfig) validate(name string) error {
	if g == nil {
		return fmt.Errorf("exchange config: gateway %s is nil", name)
	}
	if strings.TrimSpace(g.Type) == "" {
		return fmt.Errorf("exchange config: gateway %s must specify type", name)
	}
	if _, ok := lookupGatewayBuilder(g.Type); !ok {
		return fmt.Errorf("exchange config: gateway %s has unsupported type %q", name, g.Type)
	}
	if g.RequestsPerSecond < 0 {
		return fmt.Errorf("exchange config: gateway %s requests_per_second must not be negative", name)
	}
	if strings.ToLower(g.Type) == "binance" && !g.Testnet && (g.APIKey == "" || g.APISecret == "") {
		return fmt.Errorf("exchange config: gateway %s requires api_key and api_secret", name)
	}
	return nil
}

// BuildGateways instantiates exchange gateways according to the configuration.
func (c *Config) BuildGateways() (map[string]Gateway, error) {
	result := make(map[string]Gateway, len(c.Gateways))
	for name, gwCfg := range c.Gateways {
		builder, ok := lookupGatewayBuilder(gwCfg.Type)
		if !ok {
			return nil, fmt.Errorf("exchange gateway %s: unsupported type %q", name, gwCfg.Type)
		}
		gw, err := builder(name, gwCfg)
		if err != nil {
			return nil, fmt.Errorf("exchange gateway %s: %w", name, err)
		}
		result[name] = gw
	}
	return result, nil
}
