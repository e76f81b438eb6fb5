package repo

import (
	"errors"

	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cacheutil "tidebot/internal/cache"
)

// Dependencies bundles the shared infrastructure required by repository
// implementations.
type Dependencies struct {
	DBConn sqlx.SqlConn
	Cache  cache.Cache
	TTL    cacheutil.TTLSet
}

// Set exposes strongly typed repositories to application logic.
type Set struct {
	Trades     *TradesRepo
	Signals    *SignalsRepo
	BotConfigs *BotConfigsRepo
}

// New constructs the repository set, validating required dependencies.
func New(deps Dependencies) (*Set, error) {
	if deps.DBConn == nil {
		return nil, errors.New("repo: missing DBConn dependency")
	}

	return &Set{
		Trades:     newTradesRepo(deps),
		Signals:    newSignalsRepo(deps),
		BotConfigs: newBotConfigsRepo(deps),
	}, nil
}
