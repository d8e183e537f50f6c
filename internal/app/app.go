// Package app wires configuration, stores, the chain client, the publisher and
// the orchestrator into one runnable unit shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"realm-ledger/internal/chain"
	"realm-ledger/internal/config"
	"realm-ledger/internal/domain"
	"realm-ledger/internal/orchestrator"
	"realm-ledger/internal/publisher"
	"realm-ledger/internal/storage"
	chstore "realm-ledger/internal/storage/clickhouse"
	"realm-ledger/internal/storage/memory"
	"realm-ledger/internal/storage/migrations"
	pgstore "realm-ledger/internal/storage/postgres"
)

// Stores holds the storage implementations selected by configuration.
type Stores struct {
	Stakes      storage.StakeResultStore
	Claims      storage.ClaimsResultStore
	Pushes      storage.PushResultStore
	Checkpoints storage.CheckpointStore
	Archive     storage.Archive // nil unless a ClickHouse DSN is configured
}

// CreateStores opens the configured backend. Postgres and ClickHouse schemas
// are migrated on open.
func CreateStores(ctx context.Context, cfg config.StorageConfig, log *logrus.Logger) (*Stores, func(), error) {
	var (
		stores  *Stores
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Backend {
	case config.BackendMemory:
		stores = &Stores{
			Stakes:      memory.NewStakeResultStore(),
			Claims:      memory.NewClaimsResultStore(),
			Pushes:      memory.NewPushResultStore(),
			Checkpoints: memory.NewCheckpointStore(),
		}
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logApplied(log, "postgres", applied)
		stores = &Stores{
			Stakes:      pgstore.NewStakeResultStore(pool),
			Claims:      pgstore.NewClaimsResultStore(pool),
			Pushes:      pgstore.NewPushResultStore(pool),
			Checkpoints: pgstore.NewCheckpointStore(pool),
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.ClickhouseDSN != "" {
		conn, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		logApplied(log, "clickhouse", applied)
		closers = append(closers, func() { _ = conn.Close() })
		stores.Archive = chstore.NewArchive(conn)
		log.Info("history archive enabled")
	}

	return stores, cleanup, nil
}

func logApplied(log *logrus.Logger, db string, applied []migrations.Migration) {
	for _, m := range applied {
		log.WithFields(logrus.Fields{"db": db, "version": m.Version, "name": m.Name}).Info("migration applied")
	}
}

// App is a fully wired ledger process.
type App struct {
	Config       *config.Config
	Registry     *config.Registry
	Stores       *Stores
	Client       *chain.Client
	Publisher    *publisher.Publisher // nil when publishing credentials are missing
	Orchestrator *orchestrator.Orchestrator
	Log          *logrus.Logger

	cleanup func()
}

// Close releases the chain client and the stores.
func (a *App) Close() {
	if a.Client != nil {
		a.Client.Close()
	}
	if a.cleanup != nil {
		a.cleanup()
	}
}

// Build loads the realm registry, opens the stores and dials the node.
// Missing signing credentials disable publishing without failing the build.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	reg, err := config.LoadRegistry(cfg.RealmsFile)
	if err != nil {
		return nil, fmt.Errorf("load realm registry: %w", err)
	}
	log.WithFields(logrus.Fields{
		"token":    reg.Token.Address.Hex(),
		"realms":   len(reg.Realms),
		"checksum": reg.Checksum(),
	}).Info("realm registry loaded")

	stores, cleanup, err := CreateStores(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Registry: reg, Stores: stores, Log: log, cleanup: cleanup}

	if cfg.Chain.RPCURL == "" {
		a.Close()
		return nil, &domain.MissingCredentialsError{Missing: []string{"RPC_URL"}}
	}
	a.Client, err = chain.Dial(ctx, cfg.Chain.RPCURL,
		chain.WithTimeout(cfg.Chain.CallTimeout.Duration),
		chain.WithMaxRetries(cfg.Chain.MaxRetries),
		chain.WithRetryDelay(cfg.Chain.RetryDelay.Duration),
		chain.WithRateLimit(cfg.Chain.RateLimitRPS),
		chain.WithLogger(log),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	var pubErr error
	a.Publisher, pubErr = publisher.New(ctx, cfg.Chain, publisher.Options{
		Registry: reg,
		Backend:  a.Client,
		Stakes:   stores.Stakes,
		Claims:   stores.Claims,
		Pushes:   stores.Pushes,
		Archive:  stores.Archive,
		Logger:   log,
	})
	var missing *domain.MissingCredentialsError
	switch {
	case pubErr == nil:
	case errors.As(pubErr, &missing):
		log.WithField("missing", missing.Missing).Warn("publishing disabled")
	default:
		a.Close()
		return nil, fmt.Errorf("create publisher: %w", pubErr)
	}

	orchOpts := orchestrator.Options{
		Registry:       reg,
		Reader:         a.Client,
		Caller:         a.Client,
		Stakes:         stores.Stakes,
		Claims:         stores.Claims,
		Checkpoints:    stores.Checkpoints,
		Archive:        stores.Archive,
		PublisherErr:   pubErr,
		ClaimsEvery:    cfg.Tick.ClaimsEvery,
		UseCheckpoints: cfg.Chain.UseCheckpoints,
		Logger:         log,
	}
	if a.Publisher != nil {
		orchOpts.Publisher = a.Publisher
	}
	a.Orchestrator, err = orchestrator.New(orchOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
