package svc

import (
	"context"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quoteflow/internal/application/port"
	"quoteflow/internal/application/service"
	"quoteflow/internal/application/usecase/ingest"
	"quoteflow/internal/domain/model"
	"quoteflow/internal/infrastructure/config"
	"quoteflow/internal/infrastructure/feed/redisstream"
	"quoteflow/internal/infrastructure/quotesource"
	"quoteflow/internal/infrastructure/resilience"
	"quoteflow/internal/infrastructure/storage/composite"
	pgrepo "quoteflow/internal/infrastructure/storage/postgres"
	redisrepo "quoteflow/internal/infrastructure/storage/redis"
	sqliterepo "quoteflow/internal/infrastructure/storage/sqlite"
)

// Store is what both SQL repositories provide.
type Store interface {
	port.AssetLookup
	port.QuoteRepository
	port.PositionStore
	port.OperationStore
	port.QuoteReader
	port.PortfolioStore

	CreateAsset(ctx context.Context, a *model.Asset) error
	CreatePosition(ctx context.Context, p *model.Position) error
	InsertOperation(ctx context.Context, op *model.Operation) error
	ListPositions(ctx context.Context, assetID int64) ([]model.Position, error)
}

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	redisMu     sync.Mutex
	redisClient *redisclient.Client
	cache       *redisrepo.Repo
	store       Store

	breaker      *resilience.Breaker
	gateway      *service.QuoteGateway
	processor    *service.QuoteProcessor
	averagePrice *service.AveragePriceService
	portfolio    *service.PortfolioService

	closerChain []func() error
}

// New opens the store and builds the services. Redis is connected on first
// use, so commands that only touch the store work while it is down.
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	sc.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "quote-source",
		FailureThreshold: sc.Config.Breaker.FailureThreshold,
		BreakDuration:    sc.Config.BreakDuration(),
	})
	sc.gateway = service.NewQuoteGateway(sc.buildSource(), sc.breaker)
	sc.processor = service.NewQuoteProcessor(sc.store)
	sc.averagePrice = service.NewAveragePriceService(sc.store, sc.store)
	sc.portfolio = service.NewPortfolioService(sc.store, sc.store)

	log.Info().
		Str("storage", sc.Config.Storage.Driver).
		Str("source", sc.Config.Source.Kind).
		Bool("cache", sc.Config.Cache.Enabled).
		Msg("✓ All components initialized")
	return nil
}

func (sc *ServiceContext) redisOptions() *redisclient.Options {
	return &redisclient.Options{
		Addr:     sc.Config.Feed.Addr,
		Password: sc.Config.Feed.Password,
		DB:       sc.Config.Feed.DB,
	}
}

// connectRetry governs the ping of a fresh redis client, using the worker's
// attempt and backoff settings.
func (sc *ServiceContext) connectRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts: sc.Config.Worker.MaxAttempts,
		Backoff:     sc.backoff().Next,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("addr", sc.Config.Feed.Addr).Msg("redis ping failed, retrying")
		},
	}
}

func (sc *ServiceContext) backoff() resilience.Backoff {
	return resilience.Backoff{
		Min:    time.Duration(sc.Config.Worker.BackoffMinMs) * time.Millisecond,
		Max:    time.Duration(sc.Config.Worker.BackoffMaxMs) * time.Millisecond,
		Factor: 2,
	}
}

// dialRedis returns a pinged client or closes it and fails.
func (sc *ServiceContext) dialRedis() (*redisclient.Client, error) {
	rdb := redisclient.NewClient(sc.redisOptions())
	err := sc.connectRetry().Do(sc.Ctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis %s: %w", ErrFeedInitFailed, sc.Config.Feed.Addr, err)
	}
	return rdb, nil
}

// redis connects the shared client on first use.
func (sc *ServiceContext) redis() (*redisclient.Client, error) {
	sc.redisMu.Lock()
	defer sc.redisMu.Unlock()
	if sc.redisClient != nil {
		return sc.redisClient, nil
	}

	rdb, err := sc.dialRedis()
	if err != nil {
		return nil, err
	}
	sc.redisClient = rdb
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Feed.Addr).
		Int("db", sc.Config.Feed.DB).
		Msg("✓ Redis initialized")
	return rdb, nil
}

func (sc *ServiceContext) initStorage() error {
	switch sc.Config.Storage.Driver {
	case "postgres":
		repo, err := pgrepo.New(sc.Ctx, sc.Config.Storage.Postgres.DSN, sc.Config.Storage.Postgres.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres repo creation failed: %w", err)
		}
		sc.store = repo
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres pool")
			return repo.Close()
		})
		log.Info().Int("max_conns", sc.Config.Storage.Postgres.MaxConns).Msg("✓ Postgres initialized")
	default:
		repo, err := sqliterepo.New(sc.Config.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite repo creation failed: %w", err)
		}
		sc.store = repo
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", sc.Config.Storage.SQLite.Path).Msg("✓ SQLite initialized")
	}
	return nil
}

func (sc *ServiceContext) buildSource() port.QuoteSource {
	if sc.Config.Source.Kind == "http" {
		return quotesource.NewHTTP(sc.Config.Source.BaseURL, sc.Config.SourceTimeout())
	}
	return quotesource.NewSimulated(sc.Config.Source.FailEvery, 50*time.Millisecond)
}

// BuildWorker assembles an ingestion worker on a group consumer that owns
// its redis client. The worker closes the consumer when it stops.
func (sc *ServiceContext) BuildWorker() (*ingest.Worker, error) {
	positions, err := sc.positionStore()
	if err != nil {
		return nil, err
	}

	// the blocking XREADGROUP gets a connection of its own
	rdb, err := sc.dialRedis()
	if err != nil {
		return nil, err
	}
	consumer := redisstream.Adopt(rdb, sc.consumerConfig())

	return ingest.NewWorker(ingest.WorkerDeps{
		Consumer:  consumer,
		Assets:    sc.store,
		Processor: sc.processor,
		Positions: positions,
		Quotes:    sc.store,
		Retry: resilience.RetryPolicy{
			MaxAttempts: sc.Config.Worker.MaxAttempts,
			Backoff:     sc.backoff().Next,
		},
		ErrorDelay:     sc.Config.ErrorDelay(),
		ProcessTimeout: sc.Config.ProcessTimeout(),
	}), nil
}

func (sc *ServiceContext) consumerConfig() redisstream.Config {
	return redisstream.Config{
		Stream:       sc.Config.Feed.Stream,
		Group:        sc.Config.Feed.Group,
		Consumer:     sc.Config.Feed.Consumer,
		Block:        sc.Config.BlockTimeout(),
		Batch:        int64(sc.Config.Feed.Batch),
		ClaimMinIdle: sc.Config.ClaimMinIdle(),
		ClaimEvery:   sc.Config.ClaimEvery(),
	}
}

// positionStore mirrors recomputed positions into the cache when enabled.
func (sc *ServiceContext) positionStore() (port.PositionStore, error) {
	cache, err := sc.Cache()
	if err != nil {
		return nil, err
	}
	if cache == nil {
		return sc.store, nil
	}
	return composite.NewPositions(sc.store, cache), nil
}

func (sc *ServiceContext) Publisher() (*redisstream.Publisher, error) {
	rdb, err := sc.redis()
	if err != nil {
		return nil, err
	}
	return redisstream.NewPublisher(rdb, sc.Config.Feed.Stream, 0), nil
}

func (sc *ServiceContext) Store() Store { return sc.store }

// Cache is nil unless cache.enabled is set.
func (sc *ServiceContext) Cache() (*redisrepo.Repo, error) {
	if !sc.Config.Cache.Enabled {
		return nil, nil
	}
	rdb, err := sc.redis()
	if err != nil {
		return nil, err
	}

	sc.redisMu.Lock()
	defer sc.redisMu.Unlock()
	if sc.cache == nil {
		sc.cache = redisrepo.New(rdb, sc.Config.Cache.Prefix, sc.Config.CacheTTL(), sc.Config.Cache.Channel)
	}
	return sc.cache, nil
}

func (sc *ServiceContext) Gateway() *service.QuoteGateway { return sc.gateway }

func (sc *ServiceContext) Breaker() *resilience.Breaker { return sc.breaker }

func (sc *ServiceContext) AveragePrice() *service.AveragePriceService { return sc.averagePrice }

func (sc *ServiceContext) Portfolio() *service.PortfolioService { return sc.portfolio }

// Close releases resources in reverse order of creation.
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
