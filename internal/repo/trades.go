package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cacheutil "tidebot/internal/cache"
	"tidebot/pkg/exchange"
	"tidebot/pkg/trade"
)

const tradeColumns = `
    id,
    symbol,
    side,
    order_type,
    quantity,
    submitted_price,
    fill_price,
    status,
    profit_loss,
    exchange_order_id,
    created_at,
    updated_at`

// TradesRepo persists trades in Postgres, with optional Redis caching of the
// per-symbol open-trade lists.
type TradesRepo struct {
	conn  sqlx.SqlConn
	cache cache.Cache
	ttl   cacheutil.TTLSet
}

var _ trade.Store = (*TradesRepo)(nil)

func newTradesRepo(deps Dependencies) *TradesRepo {
	return &TradesRepo{
		conn:  deps.DBConn,
		cache: deps.Cache,
		ttl:   deps.TTL,
	}
}

func (r *TradesRepo) Upsert(ctx context.Context, t *trade.Trade) error {
	now := time.Now().UTC()
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	const query = `
INSERT INTO trades (
    id, symbol, side, order_type, quantity, submitted_price,
    fill_price, status, profit_loss, exchange_order_id, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    quantity = EXCLUDED.quantity,
    submitted_price = EXCLUDED.submitted_price,
    fill_price = EXCLUDED.fill_price,
    status = EXCLUDED.status,
    profit_loss = EXCLUDED.profit_loss,
    exchange_order_id = EXCLUDED.exchange_order_id,
    updated_at = EXCLUDED.updated_at`

	_, err := r.conn.ExecCtx(ctx, query,
		t.ID, t.Symbol, string(t.Side), t.OrderType, t.Quantity, t.SubmittedPrice,
		nullFloat(t.FillPrice), string(t.Status), nullFloat(t.ProfitLoss),
		nullString(t.ExchangeOrderID), createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("tradesRepo.Upsert %s: %w", t.ID, err)
	}
	r.invalidate(ctx, t.Symbol)
	return nil
}

func (r *TradesRepo) OpenTrades(ctx context.Context) ([]trade.Trade, error) {
	query := `SELECT` + tradeColumns + `
FROM trades
WHERE status IN ('pending', 'filled', 'partial_filled')
ORDER BY created_at DESC`

	var rows []tradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("tradesRepo.OpenTrades query: %w", err)
	}
	return mapTradeRows(rows), nil
}

func (r *TradesRepo) OpenBySymbol(ctx context.Context, symbol string) ([]trade.Trade, error) {
	key := cacheutil.OpenTradesKey(symbol)
	var cached []trade.Trade
	if ok, _ := r.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	query := `SELECT` + tradeColumns + `
FROM trades
WHERE symbol = $1 AND status IN ('pending', 'filled', 'partial_filled')
ORDER BY created_at DESC`

	var rows []tradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, symbol); err != nil {
		return nil, fmt.Errorf("tradesRepo.OpenBySymbol query: %w", err)
	}
	result := mapTradeRows(rows)
	r.setCache(ctx, key, cacheutil.OpenTradesTTL(r.ttl), result)
	return result, nil
}

func (r *TradesRepo) ByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*trade.Trade, error) {
	query := `SELECT` + tradeColumns + `
FROM trades
WHERE exchange_order_id = $1`

	var row tradeRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, exchangeOrderID); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, trade.ErrNotFound
		}
		return nil, fmt.Errorf("tradesRepo.ByExchangeOrderID query: %w", err)
	}
	t := mapTradeRow(row)
	return &t, nil
}

func (r *TradesRepo) Since(ctx context.Context, since time.Time, symbols []string) ([]trade.Trade, error) {
	query := `SELECT` + tradeColumns + `
FROM trades
WHERE created_at >= $1
  AND (cardinality($2::text[]) = 0 OR symbol = ANY($2::text[]))
ORDER BY created_at DESC`

	if symbols == nil {
		symbols = []string{}
	}
	var rows []tradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, since, pq.Array(symbols)); err != nil {
		return nil, fmt.Errorf("tradesRepo.Since query: %w", err)
	}
	return mapTradeRows(rows), nil
}

func (r *TradesRepo) MarkClosed(ctx context.Context, id string, profitLoss float64) error {
	const query = `
UPDATE trades
SET status = 'closed', profit_loss = $2, updated_at = $3
WHERE id = $1
RETURNING symbol`

	var symbol string
	err := r.conn.QueryRowCtx(ctx, &symbol, query, id, profitLoss, time.Now().UTC())
	if errors.Is(err, sqlx.ErrNotFound) {
		return trade.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("tradesRepo.MarkClosed %s: %w", id, err)
	}
	r.invalidate(ctx, symbol)
	return nil
}

func (r *TradesRepo) getCache(ctx context.Context, key string, v interface{}) (bool, error) {
	if r.cache == nil {
		return false, nil
	}
	if err := r.cache.GetCtx(ctx, key, v); err != nil {
		if r.cache.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *TradesRepo) setCache(ctx context.Context, key string, ttl time.Duration, v interface{}) {
	if r.cache == nil || ttl <= 0 {
		return
	}
	if err := r.cache.SetWithExpireCtx(ctx, key, v, ttl); err != nil {
		logx.WithContext(ctx).Errorf("set cache %s: %v", key, err)
	}
}

func (r *TradesRepo) invalidate(ctx context.Context, symbol string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.DelCtx(ctx, cacheutil.OpenTradesKey(symbol)); err != nil {
		logx.WithContext(ctx).Errorf("del cache for %s: %v", symbol, err)
	}
}

type tradeRow struct {
	ID              string          `db:"id"`
	Symbol          string          `db:"symbol"`
	Side            string          `db:"side"`
	OrderType       sql.NullString  `db:"order_type"`
	Quantity        float64         `db:"quantity"`
	SubmittedPrice  float64         `db:"submitted_price"`
	FillPrice       sql.NullFloat64 `db:"fill_price"`
	Status          string          `db:"status"`
	ProfitLoss      sql.NullFloat64 `db:"profit_loss"`
	ExchangeOrderID sql.NullString  `db:"exchange_order_id"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func mapTradeRows(rows []tradeRow) []trade.Trade {
	result := make([]trade.Trade, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapTradeRow(row))
	}
	return result
}

func mapTradeRow(row tradeRow) trade.Trade {
	t := trade.Trade{
		ID:             row.ID,
		Symbol:         row.Symbol,
		Side:           exchange.Side(row.Side),
		Quantity:       row.Quantity,
		SubmittedPrice: row.SubmittedPrice,
		Status:         exchange.OrderStatus(row.Status),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.OrderType.Valid {
		t.OrderType = row.OrderType.String
	}
	if row.FillPrice.Valid {
		value := row.FillPrice.Float64
		t.FillPrice = &value
	}
	if row.ProfitLoss.Valid {
		value := row.ProfitLoss.Float64
		t.ProfitLoss = &value
	}
	if row.ExchangeOrderID.Valid {
		t.ExchangeOrderID = row.ExchangeOrderID.String
	}
	return t
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
