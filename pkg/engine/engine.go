// Package engine runs the trading decision loop: every cycle it refreshes
// prices, checks exits, asks the strategy for entries, and routes accepted
// signals through the governor to the executor. Symbols are processed
// concurrently; the per-symbol in-flight guard keeps a slow cycle from
// overlapping the next one.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tidebot/pkg/exchange"
	"tidebot/pkg/execution"
	"tidebot/pkg/governor"
	"tidebot/pkg/journal"
	"tidebot/pkg/market"
	"tidebot/pkg/pnl"
	"tidebot/pkg/strategy"
	"tidebot/pkg/trade"
)

// Engine coordinates one exchange gateway, one trade store and the decision
// pipeline for a fixed symbol set.
type Engine struct {
	cfg       *Config
	gateway   exchange.Gateway
	generator *strategy.Generator
	stratCfg  *strategy.Config
	gov       *governor.Governor
	executor  *execution.Executor
	store     trade.Store
	prices    *market.PriceCache
	signals   strategy.Store
	log       *journal.Writer
	clock     func() time.Time

	mu         sync.Mutex
	lastEODRun time.Time
}

// New constructs an Engine. prices, signals and log are optional; cfg and
// stratCfg must be normalised/validated by the caller.
func New(
	cfg *Config,
	gateway exchange.Gateway,
	generator *strategy.Generator,
	stratCfg *strategy.Config,
	gov *governor.Governor,
	executor *execution.Executor,
	store trade.Store,
	prices *market.PriceCache,
	signals strategy.Store,
	log *journal.Writer,
) *Engine {
	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		generator: generator,
		stratCfg:  stratCfg,
		gov:       gov,
		executor:  executor,
		store:     store,
		prices:    prices,
		signals:   signals,
		log:       log,
		clock:     time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// Run executes the decision loop until ctx is cancelled. The first cycle
// runs immediately; later cycles follow the configured interval.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	logx.WithContext(ctx).Infof("engine: starting loop (%d symbols, every %s)", len(e.cfg.Symbols), e.cfg.Interval)
	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logx.WithContext(ctx).Info("engine: stopping")
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle performs one pass over all symbols. Symbols already mid-flight
// from a previous cycle are skipped, not queued.
func (e *Engine) RunCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range e.cfg.Symbols {
		if !e.gov.TryAcquire(symbol) {
			logx.WithContext(ctx).Infof("engine: %s still in flight, skipping cycle", symbol)
			continue
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer e.gov.Release(symbol)
			if err := e.step(ctx, symbol); err != nil {
				logx.WithContext(ctx).Errorf("engine: %s cycle failed: %v", symbol, err)
				e.journal(journal.Entry{Kind: journal.KindError, Symbol: symbol, Message: err.Error()})
			}
		}(symbol)
	}
	wg.Wait()

	if e.cfg.EndOfDayClose {
		e.maybeCloseEndOfDay(ctx)
	}
}

// step runs the exit and entry pipeline for one symbol.
func (e *Engine) step(ctx context.Context, symbol string) error {
	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		return err
	}

	open, err := e.store.OpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}

	remaining, err := e.checkTakeProfit(ctx, symbol, price, open)
	if err != nil {
		return err
	}

	sig, err := e.propose(ctx, symbol, price, remaining)
	if err != nil || sig == nil {
		return err
	}
	e.journal(journal.Entry{
		Kind:    journal.KindSignal,
		Symbol:  symbol,
		Message: sig.Reason,
		Fields:  map[string]interface{}{"price": sig.PriceText, "confidence": sig.Confidence},
	})
	if e.signals != nil {
		if err := e.signals.Insert(ctx, sig); err != nil {
			logx.WithContext(ctx).Errorf("engine: persist signal %s: %v", sig.ID, err)
		}
	}

	decision, err := e.gov.CanPlace(ctx, symbol, sig.Price)
	if err != nil {
		return fmt.Errorf("governor: %w", err)
	}
	if !decision.Allowed {
		logx.WithContext(ctx).Infof("engine: %s signal rejected: %s", symbol, decision.Reason)
		e.journal(journal.Entry{Kind: journal.KindRejection, Symbol: symbol, Message: decision.Reason})
		return nil
	}

	res, err := e.executor.ExecuteBuy(ctx, symbol, sig.Price, e.cfg.QuoteAmount)
	if err != nil {
		return fmt.Errorf("execute buy: %w", err)
	}
	e.journal(journal.Entry{
		Kind:    journal.KindOrder,
		Symbol:  symbol,
		Message: "buy placed",
		Fields: map[string]interface{}{
			"orderId": res.OrderID, "tradeId": res.TradeID,
			"price": res.Price, "quantity": res.Quantity,
		},
	})
	if e.signals != nil {
		if err := e.signals.MarkProcessed(ctx, sig.ID); err != nil {
			logx.WithContext(ctx).Errorf("engine: mark signal %s processed: %v", sig.ID, err)
		}
	}
	return nil
}

// propose asks the strategy for the next buy: averaging down when a filled
// position already exists, otherwise a fresh support entry.
func (e *Engine) propose(ctx context.Context, symbol string, price float64, open []trade.Trade) (*strategy.Signal, error) {
	if lastFill, ok := latestFill(open); ok {
		return e.generator.AveragingSignal(ctx, symbol, price, lastFill)
	}
	candles, err := e.gateway.GetCandles(ctx, symbol, e.stratCfg.CandleInterval, e.stratCfg.SupportCandleCount)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	return e.generator.EntrySignal(ctx, symbol, price, candles)
}

// checkTakeProfit closes filled buys whose unrealized gain reached the
// target, returning the trades still open afterwards.
func (e *Engine) checkTakeProfit(ctx context.Context, symbol string, price float64, open []trade.Trade) ([]trade.Trade, error) {
	var remaining []trade.Trade
	for i := range open {
		tr := open[i]
		if tr.Side != exchange.SideBuy || tr.Status != exchange.StatusFilled {
			remaining = append(remaining, tr)
			continue
		}
		gain := pnl.ComputePercent(&tr, price)
		if gain < e.cfg.TakeProfitPercent {
			remaining = append(remaining, tr)
			continue
		}
		if err := e.closeTrade(ctx, &tr, price, "take profit"); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// closeTrade sells the position and finalizes the local record with its
// realized PnL at the sell price.
func (e *Engine) closeTrade(ctx context.Context, tr *trade.Trade, sellPrice float64, reason string) error {
	res, err := e.executor.ExecuteSell(ctx, tr.Symbol, sellPrice, tr.Quantity)
	if err != nil {
		return fmt.Errorf("close trade %s: %w", tr.ID, err)
	}
	realized := pnl.Compute(tr, sellPrice)
	if err := e.store.MarkClosed(ctx, tr.ID, realized); err != nil {
		return fmt.Errorf("mark trade %s closed: %w", tr.ID, err)
	}
	// The exit leg is not a position: once it fills it must stop counting
	// toward limits and exposure. Realized PnL stays on the entry leg.
	if res.Status == exchange.StatusFilled {
		if err := e.store.MarkClosed(ctx, res.TradeID, 0); err != nil {
			return fmt.Errorf("mark sell leg %s closed: %w", res.TradeID, err)
		}
	}
	logx.WithContext(ctx).Infow("position closed",
		logx.Field("symbol", tr.Symbol),
		logx.Field("tradeId", tr.ID),
		logx.Field("sellOrderId", res.OrderID),
		logx.Field("pnl", realized),
		logx.Field("reason", reason),
	)
	e.journal(journal.Entry{
		Kind:    journal.KindClose,
		Symbol:  tr.Symbol,
		Message: reason,
		Fields: map[string]interface{}{
			"tradeId": tr.ID, "sellOrderId": res.OrderID,
			"price": res.Price, "pnl": realized,
		},
	})
	return nil
}

// CloseSymbol sells every filled position on a symbol at the current price.
// Used by the operator surface for manual exits.
func (e *Engine) CloseSymbol(ctx context.Context, symbol string) (int, error) {
	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	open, err := e.store.OpenBySymbol(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("load open trades: %w", err)
	}
	closed := 0
	for i := range open {
		tr := open[i]
		if tr.Side != exchange.SideBuy || tr.Status != exchange.StatusFilled {
			continue
		}
		if err := e.closeTrade(ctx, &tr, price, "manual close"); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// maybeCloseEndOfDay closes all open positions once per day at the
// configured hour, at a small premium above the current market.
func (e *Engine) maybeCloseEndOfDay(ctx context.Context) {
	now := e.clock().UTC()
	if now.Hour() != e.cfg.EndOfDayHourUTC {
		return
	}
	e.mu.Lock()
	alreadyRan := sameDay(e.lastEODRun, now)
	if !alreadyRan {
		e.lastEODRun = now
	}
	e.mu.Unlock()
	if alreadyRan {
		return
	}

	logx.WithContext(ctx).Info("engine: end-of-day close")
	for _, symbol := range e.cfg.Symbols {
		price, err := e.currentPrice(ctx, symbol)
		if err != nil {
			logx.WithContext(ctx).Errorf("engine: eod price for %s: %v", symbol, err)
			continue
		}
		exit := price * (1 + e.cfg.EndOfDayPremiumPercent/100)
		open, err := e.store.OpenBySymbol(ctx, symbol)
		if err != nil {
			logx.WithContext(ctx).Errorf("engine: eod open trades for %s: %v", symbol, err)
			continue
		}
		for i := range open {
			tr := open[i]
			if tr.Side != exchange.SideBuy || tr.Status != exchange.StatusFilled {
				continue
			}
			if err := e.closeTrade(ctx, &tr, exit, "end of day close"); err != nil {
				logx.WithContext(ctx).Errorf("engine: eod close %s: %v", tr.ID, err)
			}
		}
	}
}

// currentPrice prefers a fresh streamed price and falls back to a ticker
// call when the cache is cold or stale.
func (e *Engine) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if e.prices != nil {
		if price, ok := e.prices.GetFresh(symbol, e.cfg.PriceMaxAge); ok {
			return price, nil
		}
	}
	price, err := e.gateway.GetTickerPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("ticker price for %s: %w", symbol, err)
	}
	if e.prices != nil {
		e.prices.Set(symbol, price)
	}
	return price, nil
}

func (e *Engine) journal(entry journal.Entry) {
	if e.log == nil {
		return
	}
	if err := e.log.Append(entry); err != nil {
		logx.Errorf("engine: journal append: %v", err)
	}
}

// latestFill returns the most recent fill price among open filled buys.
func latestFill(open []trade.Trade) (float64, bool) {
	var (
		best  time.Time
		price float64
		found bool
	)
	for _, tr := range open {
		if tr.Side != exchange.SideBuy || tr.Status != exchange.StatusFilled {
			continue
		}
		entry := tr.SubmittedPrice
		if tr.FillPrice != nil && *tr.FillPrice > 0 {
			entry = *tr.FillPrice
		}
		if !found || tr.UpdatedAt.After(best) {
			best = tr.UpdatedAt
			price = entry
			found = true
		}
	}
	return price, found
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
