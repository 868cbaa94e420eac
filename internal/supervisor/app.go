package supervisor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/config"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/instance"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/metrics"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/receiver"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/rpc"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/stream"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/timestamps"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

// App owns the resources of one indexer process.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	database   *sql.DB
	pools      map[types.Stream]*rpc.Pool
	supervisor *Supervisor
}

// NewApp performs every startup check and wires one task per enabled stream,
// plus the receiver indexer when the controller stream runs. Any failure is fatal.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		cfg:   cfg,
		log:   logger.NewComponentLoggerFromConfig(common.ComponentSupervisor, &cfg.LoggingConfig),
		pools: make(map[types.Stream]*rpc.Pool),
	}
	app.supervisor = New(app.log)

	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) component(name string) *logger.Logger {
	return logger.NewComponentLoggerFromConfig(name, &a.cfg.LoggingConfig)
}

func (a *App) init(ctx context.Context) error {
	database, err := db.NewPostgresDB(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConnections)
	if err != nil {
		return err
	}
	a.database = database

	st := store.New(database, a.component(common.ComponentStore))

	configurator := instance.New(st, a.component(common.ComponentInstance))
	if err := configurator.CheckSchema(ctx); err != nil {
		return err
	}

	for _, s := range a.cfg.EnabledStreams() {
		if err := a.addStream(ctx, s, st, configurator); err != nil {
			return fmt.Errorf("stream %s: %w", s, err)
		}
	}

	if a.cfg.ReceiverEnabled() {
		if err := a.addReceiver(st); err != nil {
			return err
		}
	}

	if a.cfg.MetricsEnabled {
		server := metrics.NewServer(&a.cfg.MetricsConfig, a.component(common.ComponentMetrics))
		a.supervisor.Add("metrics", server.Run)
	}
	return nil
}

func (a *App) addStream(ctx context.Context, s types.Stream, st *store.Store, configurator *instance.Configurator) error {
	sc := a.cfg.StreamConfig(s)

	pool, err := rpc.NewPool(ctx, s.String(), rpc.PoolConfig{
		URLs: sc.RPCURLs,
		Retry: rpc.RetryConfig{
			MaxRateLimitRetries:   a.cfg.RPCMaxRateLimitRetries,
			InitialBackoff:        a.cfg.InitialBackoff(),
			ComputeUnitsPerSecond: a.cfg.RPCComputeUnitsPerSecond,
		},
		PerTryTimeout: a.cfg.PerTryTimeout(),
	}, a.component(common.ComponentRPCPool).WithFields("stream", s))
	if err != nil {
		return err
	}
	a.pools[s] = pool

	chainID, err := pool.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID != sc.ChainID {
		return fmt.Errorf("rpc endpoints report chain id %d, configured %d", chainID, sc.ChainID)
	}

	resolved, err := configurator.Ensure(ctx, instance.Expected{
		Stream:          s,
		IndexName:       sc.IndexName,
		ChainID:         sc.ChainID,
		Contract:        sc.Contract,
		DeploymentBlock: sc.DeploymentBlock,
	})
	if err != nil {
		return err
	}

	cache, err := a.newCache()
	if err != nil {
		return err
	}

	runner := stream.NewRunner(stream.Config{
		Stream:           s,
		ChainID:          resolved.ChainID,
		Contract:         sc.Contract,
		DeploymentBlock:  sc.DeploymentBlock,
		Confirmations:    sc.Confirmations,
		PollInterval:     sc.PollInterval(),
		ProgressInterval: a.cfg.ProgressInterval(),
		ChunkBlocks:      sc.ChunkBlocks,
		ReorgScanDepth:   sc.ReorgScanDepth,
	}, st, stream.Providers{Fallback: pool, Pinned: pool.Pinned()}, cache, a.component(common.ComponentStreamRunner))

	a.supervisor.Add(s.String(), runner.Run)
	return nil
}

func (a *App) addReceiver(st *store.Store) error {
	pool := a.pools[types.StreamController]
	sc := a.cfg.StreamConfig(types.StreamController)
	rc := a.cfg.Receiver

	cache, err := a.newCache()
	if err != nil {
		return err
	}

	ix := receiver.NewIndexer(receiver.Config{
		ChainID:             sc.ChainID,
		Controller:          sc.Contract,
		Tokens:              rc.Tokens,
		DeploymentBlock:     sc.DeploymentBlock,
		Confirmations:       sc.Confirmations,
		PollInterval:        rc.PollInterval(),
		DiscoveryInterval:   rc.DiscoveryInterval(),
		ChunkBlocks:         rc.ChunkBlocks,
		ToBatchSize:         rc.ToBatchSize,
		BackfillConcurrency: rc.BackfillConcurrency,
		PreknownSalts:       rc.PreknownSalts,
		Create2Prefix:       rc.Create2Prefix,
	}, st, pool, cache, a.component(common.ComponentReceiverIndexer))

	a.supervisor.Add("receiver-usdt", ix.Run)
	return nil
}

func (a *App) newCache() (*timestamps.Cache, error) {
	return timestamps.New(a.cfg.BlockTimestampCacheSize, a.cfg.BlockHeaderConcurrency,
		a.component(common.ComponentTimestamps))
}

// Run blocks until a task exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.log.Infow("indexer starting", "tasks", a.supervisor.Tasks())
	err := a.supervisor.Run(ctx)
	a.log.Info("indexer stopped")
	return err
}

// Close releases the RPC pools and the database.
func (a *App) Close() {
	for _, p := range a.pools {
		p.Close()
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Warnw("failed to close database", "error", err)
		}
	}
}
