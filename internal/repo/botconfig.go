package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	enginepkg "tidebot/pkg/engine"
	"tidebot/pkg/governor"
	"tidebot/pkg/strategy"
	"tidebot/pkg/trade"
)

// BotConfig is the per-user option surface stored in the database. Nil
// fields mean "keep the file-configured value"; only set fields are applied.
type BotConfig struct {
	UserID string

	Symbols                  []string
	MaxActivePairs           *int
	MaxPositionsPerSymbol    *int
	MaxOrderAmount           *float64
	EntryOffsetPercent       *float64
	TakeProfitPercent        *float64
	SupportCandleCount       *int
	SupportLowerBoundPercent *float64
	SupportUpperBoundPercent *float64
	IntervalSeconds          *int
	EndOfDayClose            *bool
	EndOfDayPremiumPercent   *float64
}

// BotConfigsRepo reads user bot configuration rows.
type BotConfigsRepo struct {
	conn sqlx.SqlConn
}

func newBotConfigsRepo(deps Dependencies) *BotConfigsRepo {
	return &BotConfigsRepo{conn: deps.DBConn}
}

// Read returns the stored configuration for a user, or trade.ErrNotFound
// when the user has none.
func (r *BotConfigsRepo) Read(ctx context.Context, userID string) (*BotConfig, error) {
	const query = `
SELECT user_id, symbols, max_active_pairs, max_positions_per_symbol,
       max_order_amount, entry_offset_percent, take_profit_percent,
       support_candle_count, support_lower_bound_percent,
       support_upper_bound_percent, interval_seconds,
       end_of_day_close, end_of_day_premium_percent
FROM bot_configs
WHERE user_id = $1`

	var row botConfigRow
	err := r.conn.QueryRowCtx(ctx, &row, query, userID)
	if errors.Is(err, sqlx.ErrNotFound) {
		return nil, trade.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("botConfigsRepo.Read %s: %w", userID, err)
	}
	return mapBotConfigRow(row), nil
}

// Apply overlays the stored options onto the file-derived configs. Unset
// fields leave the file values alone.
func (bc *BotConfig) Apply(strat *strategy.Config, gov *governor.Config, eng *enginepkg.Config) {
	if bc == nil {
		return
	}
	if len(bc.Symbols) > 0 && eng != nil {
		eng.Symbols = append([]string(nil), bc.Symbols...)
	}
	if gov != nil {
		if bc.MaxActivePairs != nil {
			gov.MaxActiveSymbols = *bc.MaxActivePairs
		}
		if bc.MaxPositionsPerSymbol != nil {
			gov.MaxPositionsPerSymbol = *bc.MaxPositionsPerSymbol
		}
		if bc.MaxOrderAmount != nil {
			gov.MaxOrderAmount = *bc.MaxOrderAmount
		}
	}
	if strat != nil {
		if bc.EntryOffsetPercent != nil {
			strat.EntryOffsetPercent = *bc.EntryOffsetPercent
		}
		if bc.SupportCandleCount != nil {
			strat.SupportCandleCount = *bc.SupportCandleCount
		}
		if bc.SupportLowerBoundPercent != nil {
			strat.SupportLowerBoundPercent = *bc.SupportLowerBoundPercent
		}
		if bc.SupportUpperBoundPercent != nil {
			strat.SupportUpperBoundPercent = *bc.SupportUpperBoundPercent
		}
	}
	if eng != nil {
		if bc.MaxOrderAmount != nil {
			eng.QuoteAmount = *bc.MaxOrderAmount
		}
		if bc.TakeProfitPercent != nil {
			eng.TakeProfitPercent = *bc.TakeProfitPercent
		}
		if bc.IntervalSeconds != nil && *bc.IntervalSeconds > 0 {
			eng.Interval = time.Duration(*bc.IntervalSeconds) * time.Second
		}
		if bc.EndOfDayClose != nil {
			eng.EndOfDayClose = *bc.EndOfDayClose
		}
		if bc.EndOfDayPremiumPercent != nil {
			eng.EndOfDayPremiumPercent = *bc.EndOfDayPremiumPercent
		}
	}
}

type botConfigRow struct {
	UserID                   string          `db:"user_id"`
	Symbols                  pq.StringArray  `db:"symbols"`
	MaxActivePairs           sql.NullInt64   `db:"max_active_pairs"`
	MaxPositionsPerSymbol    sql.NullInt64   `db:"max_positions_per_symbol"`
	MaxOrderAmount           sql.NullFloat64 `db:"max_order_amount"`
	EntryOffsetPercent       sql.NullFloat64 `db:"entry_offset_percent"`
	TakeProfitPercent        sql.NullFloat64 `db:"take_profit_percent"`
	SupportCandleCount       sql.NullInt64   `db:"support_candle_count"`
	SupportLowerBoundPercent sql.NullFloat64 `db:"support_lower_bound_percent"`
	SupportUpperBoundPercent sql.NullFloat64 `db:"support_upper_bound_percent"`
	IntervalSeconds          sql.NullInt64   `db:"interval_seconds"`
	EndOfDayClose            sql.NullBool    `db:"end_of_day_close"`
	EndOfDayPremiumPercent   sql.NullFloat64 `db:"end_of_day_premium_percent"`
}

func mapBotConfigRow(row botConfigRow) *BotConfig {
	bc := &BotConfig{
		UserID:  row.UserID,
		Symbols: append([]string(nil), row.Symbols...),
	}
	bc.MaxActivePairs = nullIntPtr(row.MaxActivePairs)
	bc.MaxPositionsPerSymbol = nullIntPtr(row.MaxPositionsPerSymbol)
	bc.MaxOrderAmount = nullFloatPtr(row.MaxOrderAmount)
	bc.EntryOffsetPercent = nullFloatPtr(row.EntryOffsetPercent)
	bc.TakeProfitPercent = nullFloatPtr(row.TakeProfitPercent)
	bc.SupportCandleCount = nullIntPtr(row.SupportCandleCount)
	bc.SupportLowerBoundPercent = nullFloatPtr(row.SupportLowerBoundPercent)
	bc.SupportUpperBoundPercent = nullFloatPtr(row.SupportUpperBoundPercent)
	bc.IntervalSeconds = nullIntPtr(row.IntervalSeconds)
	if row.EndOfDayClose.Valid {
		v := row.EndOfDayClose.Bool
		bc.EndOfDayClose = &v
	}
	bc.EndOfDayPremiumPercent = nullFloatPtr(row.EndOfDayPremiumPercent)
	return bc
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
