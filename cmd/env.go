package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/aiextract"
	"github.com/sells-group/enrichment-cli/internal/cost"
	"github.com/sells-group/enrichment-cli/internal/lock"
	"github.com/sells-group/enrichment-cli/internal/orchestrator"
	"github.com/sells-group/enrichment-cli/internal/ratelimit"
	"github.com/sells-group/enrichment-cli/internal/resilience"
	"github.com/sells-group/enrichment-cli/internal/scrape"
	"github.com/sells-group/enrichment-cli/internal/store"
	anthropicpkg "github.com/sells-group/enrichment-cli/pkg/anthropic"
	"github.com/sells-group/enrichment-cli/pkg/perplexity"
)

// enrichEnv holds the store, scrape runner and job machinery needed by the
// run and serve commands.
type enrichEnv struct {
	Store        store.Store
	Runner       *scrape.Runner
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *orchestrator.Dispatcher
	redis        *redis.Client
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initCatalog() (scrape.Catalog, error) {
	if cfg.Scrape.SourcesFile == "" {
		return scrape.DefaultCatalog(), nil
	}
	c, err := scrape.LoadCatalog(cfg.Scrape.SourcesFile)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded source catalog", zap.String("path", cfg.Scrape.SourcesFile))
	return c, nil
}

func initRunner(catalog scrape.Catalog) *scrape.Runner {
	breaker := resilience.DefaultCircuitBreakerConfig()
	if cfg.Scrape.BreakerThreshold > 0 {
		breaker.FailureThreshold = cfg.Scrape.BreakerThreshold
	}
	if cfg.Scrape.BreakerReset > 0 {
		breaker.ResetTimeout = cfg.Scrape.BreakerReset
	}
	return scrape.NewRunner(
		catalog,
		scrape.NewHTTPFetcher(cfg.Scrape.RequestTimeout),
		ratelimit.New(cfg.Scrape.MinCallerInterval),
		scrape.RunnerConfig{
			Retries:        cfg.Scrape.ChainRetries,
			InitialBackoff: cfg.Scrape.ChainBackoff,
			MinFields:      cfg.Scrape.MinFields,
			HostInterval:   cfg.Scrape.HostInterval,
			Breaker:        breaker,
		},
	)
}

func initEngine() *aiextract.Engine {
	pplx := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)
	var opts []aiextract.Option
	if cfg.Anthropic.Key != "" {
		opts = append(opts, aiextract.WithRestructurer(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model))
	} else {
		zap.L().Debug("ENRICH_ANTHROPIC_KEY not set, JSON restructuring pass disabled")
	}
	return aiextract.New(pplx, opts...)
}

// initLocker returns the company key. The in-process semaphore always
// applies; a Redis lock is chained in when configured.
func initLocker(ctx context.Context) (lock.Locker, *redis.Client, error) {
	keyed := lock.NewKeyed()
	if cfg.Redis.Addr == "" {
		return keyed, nil, nil
	}
	rdb, err := lock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("redis company lock enabled", zap.String("addr", cfg.Redis.Addr))
	return lock.Chain{keyed, lock.NewRedis(rdb, lock.WithTTL(cfg.Redis.LockTTL))}, rdb, nil
}

// initEnv wires everything a job needs. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &enrichEnv{Store: st}

	catalog, err := initCatalog()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Runner = initRunner(catalog)

	locker, rdb, err := initLocker(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.redis = rdb

	env.Orchestrator = orchestrator.New(orchestrator.Config{
		InterBatchDelay:   cfg.Orchestrator.InterBatchDelay,
		CallsPerWindow:    cfg.Orchestrator.CallsPerWindow,
		CallCost:          cfg.Orchestrator.CallCost,
		ModuleConcurrency: cfg.Orchestrator.ModuleConcurrency,
	}, st, initEngine(), env.Runner,
		orchestrator.WithCatalog(catalog),
		orchestrator.WithPricing(cost.NewCalculator(cost.DefaultRates())),
	)

	env.Dispatcher = orchestrator.NewDispatcher(env.Orchestrator, st, locker, orchestrator.DispatcherConfig{
		MaxConcurrentJobs: cfg.Orchestrator.MaxConcurrentJobs,
		HostRetries:       cfg.Orchestrator.HostRetries,
		RetryBackoff:      cfg.Orchestrator.RetryBackoff,
	})
	return env, nil
}

// shutdownTimeout bounds graceful server shutdown.
const shutdownTimeout = 30 * time.Second
