// Package precision renders prices and quantities as exchange-safe
// fixed-point strings under an instrument's trading rules.
package precision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"tidebot/pkg/instrument"
)

// maxDecimals caps rendered fractional digits; exchanges reject more.
const maxDecimals = 8

// ErrValidation indicates a (price, quantity) pair failed the instrument's
// constraints after formatting.
var ErrValidation = errors.New("precision: order validation failed")

// Formatter rounds and renders values against catalog-supplied rules.
type Formatter struct {
	catalog *instrument.Catalog
}

// NewFormatter constructs a Formatter bound to an instrument catalog.
func NewFormatter(catalog *instrument.Catalog) *Formatter {
	return &Formatter{catalog: catalog}
}

// FormatPrice rounds rawPrice to the nearest multiple of the symbol's tick
// size (half up) and renders it with the tick size's own decimal count.
// Formatting is idempotent: an already formatted value round-trips unchanged.
func (f *Formatter) FormatPrice(ctx context.Context, symbol string, rawPrice float64) (string, error) {
	if !(rawPrice > 0) || math.IsInf(rawPrice, 0) || math.IsNaN(rawPrice) {
		return "", fmt.Errorf("%w: price %v must be positive and finite", ErrValidation, rawPrice)
	}
	inst, err := f.catalog.Get(ctx, symbol)
	if err != nil {
		return "", err
	}
	rounded := roundToStep(rawPrice, inst.TickSize)
	return renderFixed(rounded, decimalsOf(inst.TickSize))
}

// FormatQuantity floors rawQuantity to the nearest multiple of the symbol's
// lot step and renders it with the step's own decimal count. Flooring, never
// rounding up, guarantees the formatted quantity never exceeds the intent.
func (f *Formatter) FormatQuantity(ctx context.Context, symbol string, rawQuantity float64) (string, error) {
	if !(rawQuantity > 0) || math.IsInf(rawQuantity, 0) || math.IsNaN(rawQuantity) {
		return "", fmt.Errorf("%w: quantity %v must be positive and finite", ErrValidation, rawQuantity)
	}
	inst, err := f.catalog.Get(ctx, symbol)
	if err != nil {
		return "", err
	}
	floored := floorToStep(rawQuantity, inst.StepSize)
	if floored <= 0 {
		return "", fmt.Errorf("%w: quantity %v flooring to step %v leaves nothing to order",
			ErrValidation, rawQuantity, inst.StepSize)
	}
	return renderFixed(floored, decimalsOf(inst.StepSize))
}

// ValidateOrder checks a (price, quantity) pair against the symbol's rules.
// Callers must validate the formatted values, not the pre-rounding inputs.
func (f *Formatter) ValidateOrder(ctx context.Context, symbol string, price, quantity float64) error {
	if !(price > 0) || math.IsInf(price, 0) || math.IsNaN(price) {
		return fmt.Errorf("%w: %s price %v must be positive and finite", ErrValidation, symbol, price)
	}
	if !(quantity > 0) || math.IsInf(quantity, 0) || math.IsNaN(quantity) {
		return fmt.Errorf("%w: %s quantity %v must be positive and finite", ErrValidation, symbol, quantity)
	}
	inst, err := f.catalog.Get(ctx, symbol)
	if err != nil {
		return err
	}

	for _, v := range []struct {
		name  string
		value float64
	}{{"price", price}, {"quantity", quantity}} {
		s := strconv.FormatFloat(v.value, 'g', -1, 64)
		if strings.ContainsAny(s, "eE") {
			return fmt.Errorf("%w: %s %s %v requires scientific notation", ErrValidation, symbol, v.name, v.value)
		}
		if d := decimalsForString(s); d > maxDecimals {
			return fmt.Errorf("%w: %s %s %s has %d decimals, max %d", ErrValidation, symbol, v.name, s, d, maxDecimals)
		}
	}

	if notional := price * quantity; notional < inst.MinNotional {
		return fmt.Errorf("%w: %s notional %.8f (price=%v qty=%v) below minimum %v",
			ErrValidation, symbol, notional, price, quantity, inst.MinNotional)
	}
	return nil
}

// roundToStep rounds value to the nearest step multiple, half up. A relative
// nudge far below any real tick distance keeps exact .5 boundaries carried
// with binary noise from flipping downward.
func roundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	ratio := value / step
	ratio += math.Abs(ratio) * 1e-12
	return math.Round(ratio) * step
}

// floorToStep truncates value to the nearest step multiple below it. Ratios
// within relative 1e-8 of a whole multiple snap to it first, so an exact
// multiple carried with binary noise does not floor to the bucket beneath.
func floorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	ratio := value / step
	n := math.Round(ratio)
	if math.Abs(ratio-n) < 1e-8*math.Max(1, math.Abs(ratio)) {
		return n * step
	}
	return math.Floor(ratio) * step
}

// decimalsOf reports how many fractional digits the step itself carries,
// capped at maxDecimals. A step of 0.01 yields 2, a step of 1 yields 0.
func decimalsOf(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	d := decimalsForString(s)
	if d > maxDecimals {
		return maxDecimals
	}
	return d
}

func decimalsForString(value string) int {
	if idx := strings.Index(value, "."); idx >= 0 {
		return len(value) - idx - 1
	}
	return 0
}

// renderFixed renders a value with exactly the given decimal count, refusing
// scientific notation.
func renderFixed(value float64, decimals int) (string, error) {
	s := strconv.FormatFloat(value, 'f', decimals, 64)
	if strings.ContainsAny(s, "eE") {
		return "", fmt.Errorf("%w: value %v rendered with exponent", ErrValidation, value)
	}
	return s, nil
}
