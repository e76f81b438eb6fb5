package svc

import (
	"context"
	"errors"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cacheutil "tidebot/internal/cache"
	"tidebot/internal/config"
	"tidebot/internal/repo"
	enginepkg "tidebot/pkg/engine"
	"tidebot/pkg/exchange"
	_ "tidebot/pkg/exchange/binance" // register binance gateway
	_ "tidebot/pkg/exchange/sim"     // register paper gateway
	"tidebot/pkg/execution"
	"tidebot/pkg/governor"
	"tidebot/pkg/instrument"
	"tidebot/pkg/journal"
	"tidebot/pkg/market"
	"tidebot/pkg/precision"
	"tidebot/pkg/reconcile"
	"tidebot/pkg/strategy"
	"tidebot/pkg/trade"
)

var errCacheMiss = errors.New("svc: cache miss")

// ServiceContext wires configuration into the live object graph shared by
// the daemon's tasks.
type ServiceContext struct {
	Config config.Config

	Gateways map[string]exchange.Gateway
	Gateway  exchange.Gateway

	Catalog   *instrument.Catalog
	Formatter *precision.Formatter

	StrategyConfig *strategy.Config
	EngineConfig   *enginepkg.Config
	Generator      *strategy.Generator
	Governor       *governor.Governor
	Executor       *execution.Executor

	TradeStore  trade.Store
	SignalStore strategy.Store
	Repos       *repo.Set

	Prices     *market.PriceCache
	Stream     *market.Stream
	Journal    *journal.Writer
	Engine     *enginepkg.Engine
	Reconciler *reconcile.Engine

	sqlite *repo.SqliteStore
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	exchangeCfg := c.Exchange.Value
	if exchangeCfg == nil {
		log.Fatalf("exchange config section is required")
	}
	engineCfg := c.Engine.Value
	if engineCfg == nil {
		log.Fatalf("engine config section is required")
	}
	svc.EngineConfig = engineCfg

	// Test environment never reaches mainnet endpoints.
	if c.IsTestEnv() {
		for _, gw := range exchangeCfg.Gateways {
			gw.Testnet = true
		}
	}

	gateways, err := exchangeCfg.BuildGateways()
	if err != nil {
		log.Fatalf("failed to build exchange gateways: %v", err)
	}
	svc.Gateways = gateways
	svc.Gateway = gateways[exchangeCfg.Default]
	if svc.Gateway == nil {
		log.Fatalf("default exchange gateway %q not found", exchangeCfg.Default)
	}

	svc.buildStores()

	svc.Catalog = instrument.NewCatalog(svc.Gateway)
	for symbol, ov := range c.Overrides {
		svc.Catalog.SetOverride(symbol, instrument.Override{
			TickSize:    ov.TickSize,
			StepSize:    ov.StepSize,
			MinNotional: ov.MinNotional,
		})
	}
	svc.Formatter = precision.NewFormatter(svc.Catalog)

	svc.StrategyConfig = c.Strategy.Value
	if svc.StrategyConfig == nil {
		svc.StrategyConfig = strategy.DefaultConfig()
	}
	governorCfg := c.Governor.Value
	if governorCfg == nil {
		governorCfg = governor.DefaultConfig()
	}
	svc.applyBotConfig(svc.StrategyConfig, governorCfg, engineCfg)

	svc.Generator = strategy.NewGenerator(svc.Formatter, svc.StrategyConfig)
	svc.Governor = governor.New(svc.TradeStore, svc.Gateway, governorCfg)
	svc.Executor = execution.New(svc.Gateway, svc.Formatter, svc.TradeStore)

	svc.Prices = market.NewPriceCache()
	if gwCfg, ok := exchangeCfg.Gateways[exchangeCfg.Default]; ok && gwCfg.Type == "binance" && !gwCfg.Testnet {
		svc.Stream = market.NewStream("", engineCfg.Symbols, svc.Prices)
	}

	if c.JournalPath != "" {
		writer, err := journal.Open(c.JournalPath)
		if err != nil {
			log.Fatalf("failed to open journal %s: %v", c.JournalPath, err)
		}
		svc.Journal = writer
	}

	svc.Engine = enginepkg.New(
		engineCfg, svc.Gateway, svc.Generator, svc.StrategyConfig,
		svc.Governor, svc.Executor, svc.TradeStore,
		svc.Prices, svc.SignalStore, svc.Journal,
	)
	svc.Reconciler = reconcile.New(svc.Gateway, svc.TradeStore, engineCfg.Symbols)

	return svc
}

// applyBotConfig overlays per-user options stored in the database onto the
// file-derived configs. Active only when a bot user is configured and the
// Postgres repositories are available.
func (s *ServiceContext) applyBotConfig(strat *strategy.Config, gov *governor.Config, eng *enginepkg.Config) {
	user := s.Config.BotUser
	if user == "" || s.Repos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bc, err := s.Repos.BotConfigs.Read(ctx, user)
	if errors.Is(err, trade.ErrNotFound) {
		log.Printf("no stored bot config for user %s, using file configuration", user)
		return
	}
	if err != nil {
		log.Fatalf("failed to read bot config for %s: %v", user, err)
	}
	bc.Apply(strat, gov, eng)
	log.Printf("applied stored bot config for user %s", user)
}

// buildStores selects the trade store backend from the storage config:
// Postgres via pgx, a local sqlite file, or process memory.
func (s *ServiceContext) buildStores() {
	storage := s.Config.Storage
	if storage.DSN == "" {
		s.TradeStore = trade.NewMemoryStore()
		return
	}

	switch storage.Driver {
	case "", "pgx":
		conn := sqlx.NewSqlConn("pgx", storage.DSN)
		deps := repo.Dependencies{
			DBConn: conn,
			TTL:    cacheutil.NewTTLSet(s.Config.TTL),
		}
		if s.Config.Redis.Host != "" {
			rds := redis.MustNewRedis(s.Config.Redis)
			deps.Cache = cache.NewNode(rds, syncx.NewSingleFlight(), cache.NewStat(cacheutil.Namespace), errCacheMiss)
		}
		set, err := repo.New(deps)
		if err != nil {
			log.Fatalf("failed to build repositories: %v", err)
		}
		s.Repos = set
		s.TradeStore = set.Trades
		s.SignalStore = set.Signals
	case "sqlite":
		store, err := repo.NewSqliteStore(storage.DSN)
		if err != nil {
			log.Fatalf("failed to open sqlite store: %v", err)
		}
		s.sqlite = store
		s.TradeStore = store
	default:
		log.Fatalf("unknown storage driver %q", storage.Driver)
	}
}

// Close releases resources held by the context.
func (s *ServiceContext) Close() {
	if s.Journal != nil {
		_ = s.Journal.Close()
	}
	if s.sqlite != nil {
		_ = s.sqlite.Close()
	}
}
