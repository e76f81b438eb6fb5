package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"tidebot/pkg/exchange"
	"tidebot/pkg/strategy"
)

// SignalsRepo persists generated signals and their processed flag.
type SignalsRepo struct {
	conn sqlx.SqlConn
}

var _ strategy.Store = (*SignalsRepo)(nil)

func newSignalsRepo(deps Dependencies) *SignalsRepo {
	return &SignalsRepo{conn: deps.DBConn}
}

func (r *SignalsRepo) Insert(ctx context.Context, sig *strategy.Signal) error {
	const query = `
INSERT INTO signals (
    id, symbol, side, price, price_text, confidence, reason, created_at, processed
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.conn.ExecCtx(ctx, query,
		sig.ID, sig.Symbol, string(sig.Side), sig.Price, sig.PriceText,
		sig.Confidence, nullString(sig.Reason), createdAt, sig.Processed,
	)
	if err != nil {
		return fmt.Errorf("signalsRepo.Insert %s: %w", sig.ID, err)
	}
	return nil
}

func (r *SignalsRepo) MarkProcessed(ctx context.Context, id string) error {
	const query = `UPDATE signals SET processed = TRUE WHERE id = $1`

	res, err := r.conn.ExecCtx(ctx, query, id)
	if err != nil {
		return fmt.Errorf("signalsRepo.MarkProcessed %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("signalsRepo.MarkProcessed %s rows: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("signalsRepo.MarkProcessed: signal %s not found", id)
	}
	return nil
}

// RecentBySymbol returns the latest signals for a symbol, newest first.
func (r *SignalsRepo) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]strategy.Signal, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
SELECT id, symbol, side, price, price_text, confidence, reason, created_at, processed
FROM signals
WHERE symbol = $1
ORDER BY created_at DESC
LIMIT $2`

	var rows []signalRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("signalsRepo.RecentBySymbol query: %w", err)
	}

	result := make([]strategy.Signal, 0, len(rows))
	for _, row := range rows {
		sig := strategy.Signal{
			ID:         row.ID,
			Symbol:     row.Symbol,
			Side:       exchange.Side(row.Side),
			Price:      row.Price,
			PriceText:  row.PriceText,
			Confidence: row.Confidence,
			CreatedAt:  row.CreatedAt,
			Processed:  row.Processed,
		}
		if row.Reason.Valid {
			sig.Reason = row.Reason.String
		}
		result = append(result, sig)
	}
	return result, nil
}

type signalRow struct {
	ID         string         `db:"id"`
	Symbol     string         `db:"symbol"`
	Side       string         `db:"side"`
	Price      float64        `db:"price"`
	PriceText  string         `db:"price_text"`
	Confidence float64        `db:"confidence"`
	Reason     sql.NullString `db:"reason"`
	CreatedAt  time.Time      `db:"created_at"`
	Processed  bool           `db:"processed"`
}
