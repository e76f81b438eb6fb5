// Package reconcile aligns the local trade store with exchange order
// history. Reconciliation is idempotent: once local state matches the
// exchange, further runs make no writes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"tidebot/pkg/exchange"
	"tidebot/pkg/trade"
)

// Report summarizes one reconciliation pass. It is rebuilt on every run and
// never persisted; the corrective writes it counts are what persist.
type Report struct {
	// ExchangeOrders counts orders returned by the exchange for the window.
	ExchangeOrders int
	// LocalTrades counts local trades inspected for the window.
	LocalTrades int
	// Matched counts exchange orders with a local counterpart.
	Matched int
	// MissingLocal counts exchange orders with no local trade, imported as
	// new trades.
	MissingLocal int
	// ExtraLocal counts local open trades the exchange no longer knows
	// about. They are flagged, never deleted.
	ExtraLocal int
	// StatusMismatches counts matched pairs whose local status was advanced
	// to the exchange-reported one.
	StatusMismatches int
	// PriceMismatches counts matched pairs whose local fill price was
	// corrected.
	PriceMismatches int
	// ClosedPositions counts local trades marked closed because the exchange
	// shows no remaining open quantity for them.
	ClosedPositions int
	// Recommendations are human-readable follow-ups that reconciliation will
	// not act on by itself.
	Recommendations []string
}

// Changes reports the number of corrective writes the pass made.
func (r *Report) Changes() int {
	return r.MissingLocal + r.StatusMismatches + r.PriceMismatches + r.ClosedPositions
}

// Engine drives reconciliation for a fixed symbol set.
type Engine struct {
	gateway exchange.Gateway
	store   trade.Store
	symbols []string
	clock   func() time.Time
}

// New constructs an Engine over the given symbols.
func New(gateway exchange.Gateway, store trade.Store, symbols []string) *Engine {
	return &Engine{
		gateway: gateway,
		store:   store,
		symbols: append([]string(nil), symbols...),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// Reconcile compares exchange history over the lookback window against the
// local store: imports missing orders, corrects stale statuses and fill
// prices along the allowed status transitions, and flags local open trades
// absent from the exchange.
func (e *Engine) Reconcile(ctx context.Context, lookback time.Duration) (*Report, error) {
	since := e.clock().Add(-lookback)
	report := &Report{}
	seen := make(map[string]bool)

	for _, symbol := range e.symbols {
		records, err := e.gateway.GetOrderHistory(ctx, symbol, since)
		if err != nil {
			return nil, fmt.Errorf("reconcile: order history for %s: %w", symbol, err)
		}
		report.ExchangeOrders += len(records)
		for _, rec := range records {
			seen[rec.OrderID] = true
			if err := e.reconcileRecord(ctx, rec, report); err != nil {
				return nil, err
			}
		}
		if err := e.detectClosedPositions(ctx, symbol, records, report); err != nil {
			return nil, err
		}
	}

	if err := e.flagOrphans(ctx, since, seen, report); err != nil {
		return nil, err
	}

	logx.WithContext(ctx).Infow("reconciliation pass complete",
		logx.Field("exchangeOrders", report.ExchangeOrders),
		logx.Field("localTrades", report.LocalTrades),
		logx.Field("matched", report.Matched),
		logx.Field("missingLocal", report.MissingLocal),
		logx.Field("extraLocal", report.ExtraLocal),
		logx.Field("statusMismatches", report.StatusMismatches),
		logx.Field("priceMismatches", report.PriceMismatches),
		logx.Field("closedPositions", report.ClosedPositions),
	)
	return report, nil
}

func (e *Engine) reconcileRecord(ctx context.Context, rec exchange.OrderRecord, report *Report) error {
	local, err := e.store.ByExchangeOrderID(ctx, rec.OrderID)
	if errors.Is(err, trade.ErrNotFound) {
		return e.importOrder(ctx, rec, report)
	}
	if err != nil {
		return fmt.Errorf("reconcile: lookup order %s: %w", rec.OrderID, err)
	}
	report.Matched++

	changed := false
	switch {
	case rec.Status == local.Status:
	case local.Status == exchange.StatusClosed && rec.Status == exchange.StatusFilled:
		// A closed position still reads as a filled order on the exchange;
		// the records agree.
	case trade.CanTransition(local.Status, rec.Status):
		logx.WithContext(ctx).Infof("reconcile: trade %s status %s -> %s (order %s)",
			local.ID, local.Status, rec.Status, rec.OrderID)
		local.Status = rec.Status
		report.StatusMismatches++
		changed = true
	default:
		report.Recommendations = append(report.Recommendations, fmt.Sprintf(
			"trade %s is %s locally but %s on the exchange; transition not permitted, review manually",
			local.ID, local.Status, rec.Status))
	}
	if rec.AvgFillPrice > 0 && (local.FillPrice == nil || math.Abs(*local.FillPrice-rec.AvgFillPrice) > 1e-9) {
		fill := rec.AvgFillPrice
		local.FillPrice = &fill
		report.PriceMismatches++
		changed = true
	}

	if !changed {
		return nil
	}
	local.UpdatedAt = e.clock()
	if err := e.store.Upsert(ctx, local); err != nil {
		return fmt.Errorf("reconcile: update trade %s: %w", local.ID, err)
	}
	return nil
}

func (e *Engine) importOrder(ctx context.Context, rec exchange.OrderRecord, report *Report) error {
	tr := &trade.Trade{
		ID:              uuid.NewString(),
		Symbol:          rec.Symbol,
		Side:            rec.Side,
		OrderType:       "LIMIT",
		Quantity:        rec.OrigQty,
		SubmittedPrice:  rec.Price,
		Status:          rec.Status,
		ExchangeOrderID: rec.OrderID,
		CreatedAt:       rec.UpdatedAt,
		UpdatedAt:       e.clock(),
	}
	if rec.AvgFillPrice > 0 {
		fill := rec.AvgFillPrice
		tr.FillPrice = &fill
	}
	if err := e.store.Upsert(ctx, tr); err != nil {
		return fmt.Errorf("reconcile: import order %s: %w", rec.OrderID, err)
	}
	logx.WithContext(ctx).Infof("reconcile: imported order %s as trade %s (%s %s %v @ %v)",
		rec.OrderID, tr.ID, rec.Side, rec.Symbol, rec.OrigQty, rec.Price)
	report.MissingLocal++
	return nil
}

// detectClosedPositions closes locally open filled buys that a later filled
// sell fully covers. Exchanges do not emit an explicit close event for spot
// positions, so the matched sell is the ground truth that the position no
// longer exists.
func (e *Engine) detectClosedPositions(ctx context.Context, symbol string, records []exchange.OrderRecord, report *Report) error {
	open, err := e.store.OpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("reconcile: open trades for %s: %w", symbol, err)
	}
	for _, tr := range open {
		if tr.Side != exchange.SideBuy || tr.Status != exchange.StatusFilled {
			continue
		}
		for _, rec := range records {
			if rec.Side != exchange.SideSell || rec.Status != exchange.StatusFilled {
				continue
			}
			if rec.OrderID == tr.ExchangeOrderID || rec.UpdatedAt.Before(tr.CreatedAt) {
				continue
			}
			if math.Abs(rec.ExecutedQty-tr.Quantity) > 1e-9 {
				continue
			}
			entry := tr.SubmittedPrice
			if tr.FillPrice != nil && *tr.FillPrice > 0 {
				entry = *tr.FillPrice
			}
			realized := (rec.AvgFillPrice - entry) * tr.Quantity
			if err := e.store.MarkClosed(ctx, tr.ID, realized); err != nil {
				return fmt.Errorf("reconcile: close trade %s: %w", tr.ID, err)
			}
			report.ClosedPositions++
			logx.WithContext(ctx).Infof("reconcile: closed trade %s (%s buy %v), covered by sell order %s, pnl %v",
				tr.ID, symbol, tr.Quantity, rec.OrderID, realized)
			if err := e.finalizeSellLeg(ctx, rec.OrderID, report); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// finalizeSellLeg closes the local record of a fully executed exit order.
// Realized PnL lives on the entry leg, so the sell closes with zero.
func (e *Engine) finalizeSellLeg(ctx context.Context, orderID string, report *Report) error {
	local, err := e.store.ByExchangeOrderID(ctx, orderID)
	if errors.Is(err, trade.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile: lookup sell order %s: %w", orderID, err)
	}
	if local.Status != exchange.StatusFilled {
		return nil
	}
	if err := e.store.MarkClosed(ctx, local.ID, 0); err != nil {
		return fmt.Errorf("reconcile: close sell leg %s: %w", local.ID, err)
	}
	report.ClosedPositions++
	return nil
}

func (e *Engine) flagOrphans(ctx context.Context, since time.Time, seen map[string]bool, report *Report) error {
	locals, err := e.store.Since(ctx, since, e.symbols)
	if err != nil {
		return fmt.Errorf("reconcile: load local trades: %w", err)
	}
	report.LocalTrades = len(locals)
	for _, tr := range locals {
		if !tr.IsOpen() || tr.ExchangeOrderID == "" || seen[tr.ExchangeOrderID] {
			continue
		}
		report.ExtraLocal++
		report.Recommendations = append(report.Recommendations, fmt.Sprintf(
			"trade %s (%s, order %s) is open locally but missing from exchange history; verify and cancel if stale",
			tr.ID, tr.Symbol, tr.ExchangeOrderID))
		logx.WithContext(ctx).Infof("reconcile: trade %s order %s not found on exchange", tr.ID, tr.ExchangeOrderID)
	}
	return nil
}
