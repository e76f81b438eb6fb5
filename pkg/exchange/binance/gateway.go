package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"tidebot/pkg/exchange"
)

const (
	mainnetAPIURL = "https://api.binance.com"
	testnetAPIURL = "https://testnet.binance.vision"

	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 8
)

func init() {
	exchange.RegisterGateway("binance", func(name string, cfg *exchange.GatewayConfig) (exchange.Gateway, error) {
		return New(cfg)
	})
}

// Gateway implements exchange.Gateway against the Binance spot REST API.
type Gateway struct {
	client  *gobinance.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// New constructs a Binance spot gateway from configuration.
func New(cfg *exchange.GatewayConfig) (*Gateway, error) {
	if cfg == nil {
		cfg = &exchange.GatewayConfig{}
	}
	client := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		client.BaseURL = testnetAPIURL
	} else {
		client.BaseURL = mainnetAPIURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Gateway{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		timeout: timeout,
	}, nil
}

// SetBaseURL overrides the REST endpoint. Intended for tests.
func (g *Gateway) SetBaseURL(url string) { g.client.BaseURL = url }

func (g *Gateway) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("binance: rate limiter: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	return callCtx, cancel, nil
}

// GetInstrument fetches trading rules for a symbol from exchangeInfo filters.
func (g *Gateway) GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	symbol = canonical(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("binance: empty symbol: %w", exchange.ErrMetadataUnavailable)
	}
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	info, err := g.client.NewExchangeInfoService().Symbols(symbol).Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchangeInfo %s: %v: %w", symbol, err, exchange.ErrMetadataUnavailable)
	}
	for _, s := range info.Symbols {
		if canonical(s.Symbol) != symbol {
			continue
		}
		inst, err := instrumentFromFilters(symbol, s.Filters)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
	return nil, fmt.Errorf("binance: symbol %s not listed: %w", symbol, exchange.ErrMetadataUnavailable)
}

// instrumentFromFilters extracts tick size, lot step and minimum notional
// from the raw symbol filter list. Binance moved MIN_NOTIONAL to NOTIONAL;
// both spellings are accepted.
func instrumentFromFilters(symbol string, filters []map[string]interface{}) (*exchange.Instrument, error) {
	inst := &exchange.Instrument{Symbol: symbol}
	for _, f := range filters {
		ft, _ := f["filterType"].(string)
		switch ft {
		case "PRICE_FILTER":
			inst.TickSize = filterFloat(f, "tickSize")
		case "LOT_SIZE":
			inst.StepSize = filterFloat(f, "stepSize")
		case "MIN_NOTIONAL":
			inst.MinNotional = filterFloat(f, "minNotional")
		case "NOTIONAL":
			if inst.MinNotional == 0 {
				inst.MinNotional = filterFloat(f, "minNotional")
			}
		}
	}
	if inst.TickSize <= 0 || inst.StepSize <= 0 {
		return nil, fmt.Errorf("binance: incomplete filters for %s (tick=%v step=%v): %w",
			symbol, inst.TickSize, inst.StepSize, exchange.ErrMetadataUnavailable)
	}
	return inst, nil
}

func filterFloat(f map[string]interface{}, key string) float64 {
	s, _ := f[key].(string)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// GetTickerPrice returns the latest trade price for a symbol.
func (g *Gateway) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = canonical(symbol)
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return 0, fmt.Errorf("binance: ticker %s: %w", symbol, err)
	}
	for _, p := range prices {
		if canonical(p.Symbol) != symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("binance: invalid ticker price %q for %s", p.Price, symbol)
		}
		return v, nil
	}
	return 0, fmt.Errorf("binance: no ticker for %s", symbol)
}

// GetCandles returns up to limit klines for the given interval, oldest first.
func (g *Gateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	symbol = canonical(symbol)
	if limit <= 0 {
		limit = 128
	}
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	klines, err := g.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}
	candles := make([]exchange.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, exchange.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// PlaceOrder submits a spot order. The response code is the sole source of
// truth for success; callers must additionally reject acks with no order id.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	symbol := canonical(req.Symbol)
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	svc := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(mapSide(req.Side)).
		Quantity(req.Quantity)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if strings.EqualFold(req.Type, "market") {
		svc = svc.Type(gobinance.OrderTypeMarket)
	} else {
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Price(req.Price)
	}

	resp, err := svc.Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("binance: place order %s %s: %w", req.Side, symbol, err)
	}

	raw, _ := json.Marshal(resp)
	ack := &exchange.OrderAck{
		ClientOrderID: resp.ClientOrderID,
		Status:        mapOrderStatus(resp.Status),
		Raw:           string(raw),
	}
	if resp.OrderID > 0 {
		ack.OrderID = strconv.FormatInt(resp.OrderID, 10)
	}
	return ack, nil
}

// GetOrderHistory returns all orders for a symbol updated since the given time.
func (g *Gateway) GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]exchange.OrderRecord, error) {
	symbol = canonical(symbol)
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	svc := g.client.NewListOrdersService().Symbol(symbol)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	orders, err := svc.Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("binance: order history %s: %w", symbol, err)
	}
	records := make([]exchange.OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, mapOrder(o))
	}
	return records, nil
}

// GetOpenOrders returns currently resting orders across all symbols.
func (g *Gateway) GetOpenOrders(ctx context.Context) ([]exchange.OrderRecord, error) {
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	orders, err := g.client.NewListOpenOrdersService().Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("binance: open orders: %w", err)
	}
	records := make([]exchange.OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, mapOrder(o))
	}
	return records, nil
}

// GetBalances returns non-zero wallet balances.
func (g *Gateway) GetBalances(ctx context.Context) ([]exchange.Balance, error) {
	callCtx, cancel, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	account, err := g.client.NewGetAccountService().Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("binance: account: %w", err)
	}
	balances := make([]exchange.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, exchange.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

func mapOrder(o *gobinance.Order) exchange.OrderRecord {
	rec := exchange.OrderRecord{
		OrderID:     strconv.FormatInt(o.OrderID, 10),
		Symbol:      canonical(o.Symbol),
		Side:        mapSideBack(o.Side),
		Price:       parseFloat(o.Price),
		OrigQty:     parseFloat(o.OrigQuantity),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
		Status:      mapOrderStatus(o.Status),
		UpdatedAt:   time.UnixMilli(o.UpdateTime),
	}
	// Average fill price is not reported directly; derive it from the
	// cumulative quote volume when anything has executed.
	if rec.ExecutedQty > 0 {
		if quote := parseFloat(o.CummulativeQuoteQuantity); quote > 0 {
			rec.AvgFillPrice = quote / rec.ExecutedQty
		}
	}
	return rec
}

func mapSide(side exchange.Side) gobinance.SideType {
	if side == exchange.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func mapSideBack(side gobinance.SideType) exchange.Side {
	if side == gobinance.SideTypeSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func mapOrderStatus(status gobinance.OrderStatusType) exchange.OrderStatus {
	switch status {
	case gobinance.OrderStatusTypeFilled:
		return exchange.StatusFilled
	case gobinance.OrderStatusTypePartiallyFilled:
		return exchange.StatusPartialFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeRejected,
		gobinance.OrderStatusTypeExpired, gobinance.OrderStatusTypePendingCancel:
		return exchange.StatusCancelled
	default:
		return exchange.StatusPending
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
