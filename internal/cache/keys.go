package cache

import (
	"strings"
	"time"

	"tidebot/internal/config"
)

// Namespace is the Redis key prefix for the bot.
const Namespace = "tidebot"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// OpenTradesKey caches the open-trade list for one symbol.
func OpenTradesKey(symbol string) string {
	return formatKey("trades", "open", symbol)
}

// TradeByOrderKey caches a trade looked up by its exchange order id.
func TradeByOrderKey(exchangeOrderID string) string {
	return formatKey("trades", "order", exchangeOrderID)
}

// InstrumentKey caches instrument trading rules.
func InstrumentKey(symbol string) string {
	return formatKey("instrument", symbol)
}

// PriceLatestKey caches the last streamed price.
func PriceLatestKey(symbol string) string {
	return formatKey("price", "latest", symbol)
}

// ReconcileLockKey guards against overlapping reconciliation passes.
func ReconcileLockKey() string {
	return formatKey("lock", "reconcile")
}

// OpenTradesTTL returns the TTL for open-trade payloads.
func OpenTradesTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// InstrumentTTL returns the TTL for instrument metadata.
func InstrumentTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// PriceTTL returns the TTL for latest price keys.
func PriceTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}
