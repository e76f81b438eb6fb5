package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register pure-Go sqlite driver

	"tidebot/pkg/exchange"
	"tidebot/pkg/trade"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trades (
    id                TEXT PRIMARY KEY,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    order_type        TEXT,
    quantity          REAL NOT NULL,
    submitted_price   REAL NOT NULL,
    fill_price        REAL,
    status            TEXT NOT NULL,
    profit_loss       REAL,
    exchange_order_id TEXT,
    created_at_ms     INTEGER NOT NULL,
    updated_at_ms     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
CREATE INDEX IF NOT EXISTS idx_trades_exchange_order ON trades (exchange_order_id);`

// SqliteStore persists trades in a local sqlite file. Paper mode uses it to
// keep positions across restarts without a Postgres instance.
type SqliteStore struct {
	db *sql.DB
}

var _ trade.Store = (*SqliteStore)(nil)

// NewSqliteStore opens (creating if needed) the trade database at path.
func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore: open %s: %w", path, err)
	}
	// The driver is single-writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteStore: init schema: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) Upsert(ctx context.Context, t *trade.Trade) error {
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
    fill_price, status, profit_loss, exchange_order_id, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    quantity = excluded.quantity,
    submitted_price = excluded.submitted_price,
    fill_price = excluded.fill_price,
    status = excluded.status,
    profit_loss = excluded.profit_loss,
    exchange_order_id = excluded.exchange_order_id,
    updated_at_ms = excluded.updated_at_ms`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, strings.ToUpper(strings.TrimSpace(t.Symbol)), string(t.Side), t.OrderType,
		t.Quantity, t.SubmittedPrice, nullFloat(t.FillPrice), string(t.Status),
		nullFloat(t.ProfitLoss), nullString(t.ExchangeOrderID),
		createdAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqliteStore.Upsert %s: %w", t.ID, err)
	}
	return nil
}

func (s *SqliteStore) OpenTrades(ctx context.Context) ([]trade.Trade, error) {
	return s.query(ctx, `
SELECT id, symbol, side, order_type, quantity, submitted_price,
       fill_price, status, profit_loss, exchange_order_id, created_at_ms, updated_at_ms
FROM trades
WHERE status IN ('pending', 'filled', 'partial_filled')
ORDER BY created_at_ms DESC`)
}

func (s *SqliteStore) OpenBySymbol(ctx context.Context, symbol string) ([]trade.Trade, error) {
	return s.query(ctx, `
SELECT id, symbol, side, order_type, quantity, submitted_price,
       fill_price, status, profit_loss, exchange_order_id, created_at_ms, updated_at_ms
FROM trades
WHERE symbol = ? AND status IN ('pending', 'filled', 'partial_filled')
ORDER BY created_at_ms DESC`, strings.ToUpper(strings.TrimSpace(symbol)))
}

func (s *SqliteStore) ByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*trade.Trade, error) {
	trades, err := s.query(ctx, `
SELECT id, symbol, side, order_type, quantity, submitted_price,
       fill_price, status, profit_loss, exchange_order_id, created_at_ms, updated_at_ms
FROM trades
WHERE exchange_order_id = ?
LIMIT 1`, exchangeOrderID)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, trade.ErrNotFound
	}
	return &trades[0], nil
}

func (s *SqliteStore) Since(ctx context.Context, since time.Time, symbols []string) ([]trade.Trade, error) {
	query := `
SELECT id, symbol, side, order_type, quantity, submitted_price,
       fill_price, status, profit_loss, exchange_order_id, created_at_ms, updated_at_ms
FROM trades
WHERE created_at_ms >= ?`
	args := []interface{}{since.UnixMilli()}
	if len(symbols) > 0 {
		placeholders := make([]string, len(symbols))
		for i, sym := range symbols {
			placeholders[i] = "?"
			args = append(args, strings.ToUpper(strings.TrimSpace(sym)))
		}
		query += fmt.Sprintf(" AND symbol IN (%s)", strings.Join(placeholders, ", "))
	}
	query += " ORDER BY created_at_ms DESC"
	return s.query(ctx, query, args...)
}

func (s *SqliteStore) MarkClosed(ctx context.Context, id string, profitLoss float64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE trades
SET status = 'closed', profit_loss = ?, updated_at_ms = ?
WHERE id = ?`, profitLoss, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("sqliteStore.MarkClosed %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqliteStore.MarkClosed %s rows: %w", id, err)
	}
	if affected == 0 {
		return trade.ErrNotFound
	}
	return nil
}

func (s *SqliteStore) query(ctx context.Context, query string, args ...interface{}) ([]trade.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore query: %w", err)
	}
	defer rows.Close()

	var result []trade.Trade
	for rows.Next() {
		var (
			t          trade.Trade
			side       string
			orderType  sql.NullString
			fillPrice  sql.NullFloat64
			status     string
			profitLoss sql.NullFloat64
			orderID    sql.NullString
			createdMs  int64
			updatedMs  int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &orderType, &t.Quantity, &t.SubmittedPrice,
			&fillPrice, &status, &profitLoss, &orderID, &createdMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("sqliteStore scan: %w", err)
		}
		t.Side = exchange.Side(side)
		t.Status = exchange.OrderStatus(status)
		if orderType.Valid {
			t.OrderType = orderType.String
		}
		if fillPrice.Valid {
			value := fillPrice.Float64
			t.FillPrice = &value
		}
		if profitLoss.Valid {
			value := profitLoss.Float64
			t.ProfitLoss = &value
		}
		if orderID.Valid {
			t.ExchangeOrderID = orderID.String
		}
		t.CreatedAt = time.UnixMilli(createdMs).UTC()
		t.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqliteStore rows: %w", err)
	}
	return result, nil
}
