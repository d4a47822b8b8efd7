// Package app wires the storage, numbering engine and voucher service
// selected by the configuration. The API server and the worker share it.
package app

import (
	"context"
	"fmt"

	"backoffice/internal/config"
	"backoffice/internal/core/idempotency"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/tx"
	"backoffice/internal/domain/numbering"
	"backoffice/internal/domain/settings"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/cache"
	"backoffice/internal/infrastructure/lock"
	"backoffice/internal/infrastructure/storage/postgres"
	"backoffice/internal/infrastructure/storage/postgres/document_repo"
	"backoffice/internal/infrastructure/storage/postgres/numbering_repo"
	"backoffice/internal/infrastructure/storage/postgres/settings_repo"
	"backoffice/internal/infrastructure/storage/sqlite"
	"backoffice/migrations"
	"backoffice/pkg/logger"
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired components.
type App struct {
	Engine   *numbering.Engine
	Vouchers *vouchers.Service
	Policies *settings.CachedPolicies
	Queue    numerator.PendingQueue
	DB       Pinger

	// Idempotency stores responses of voucher creation keyed by X-Idempotency-Key.
	Idempotency idempotency.Store

	closers []func()
}

// storage is what one database backend contributes.
type storage struct {
	gateway  numerator.Gateway
	locks    numerator.ScopeLock
	txm      tx.Manager
	auditor  numerator.Auditor
	queue    numerator.PendingQueue
	repo     vouchers.Repository
	settings settings.Store
	db       Pinger
	idem     idempotency.Store
}

// New opens the configured database and builds the numbering stack on it.
func New(ctx context.Context, cfg *config.Configuration) (*App, error) {
	a := &App{}

	var (
		st  storage
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		st, err = a.openPostgres(ctx, cfg)
	case config.DriverSQLite:
		st, err = a.openSQLite(ctx, cfg)
	default:
		err = fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Numbering.LockBackend == config.LockMemory {
		st.locks = lock.NewKeyedMutex()
	}

	a.Engine = numbering.NewEngine(st.gateway, st.locks, st.txm, cfg.Numbering.Engine()).
		WithAuditor(st.auditor).
		WithPendingQueue(st.queue)
	a.Policies = settings.NewCachedPolicies(st.settings, cfg.Numbering.PolicyCacheTTL)
	a.Vouchers = vouchers.NewService(st.repo, a.Engine, a.Policies, st.txm)
	a.Queue = st.queue
	a.DB = st.db
	a.Idempotency = st.idem

	if pool, ok := st.db.(*postgres.Pool); ok {
		listener := cache.NewPolicyListener(pool.Unwrap(), settings_repo.ChannelPolicyChanged, a.Policies)
		listener.Start(ctx)
		a.closers = append(a.closers, listener.Stop)
	}

	return a, nil
}

func (a *App) openPostgres(ctx context.Context, cfg *config.Configuration) (storage, error) {
	pool, err := postgres.NewPool(ctx, cfg.Database.Pool())
	if err != nil {
		return storage{}, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if cfg.Database.Migrate {
		applied, err := postgres.Migrate(ctx, pool, migrations.Postgres, "postgres")
		if err != nil {
			return storage{}, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info(ctx, "database migrated", "applied", applied)
	}

	txm := postgres.NewTxManager(pool)
	auditor, err := postgres.NewAuditService(txm)
	if err != nil {
		return storage{}, fmt.Errorf("create audit service: %w", err)
	}

	return storage{
		gateway:  numbering_repo.NewGateway(txm, nil),
		locks:    numbering_repo.NewAdvisoryLocker(txm),
		txm:      txm,
		auditor:  auditor,
		queue:    numbering_repo.NewQueue(txm),
		repo:     document_repo.NewVoucherRepo(txm),
		settings: settings_repo.NewPolicyRepo(txm),
		db:       pool,
		idem:     postgres.NewIdempotencyStore(txm, cfg.Server.IdempotencyTTL),
	}, nil
}

func (a *App) openSQLite(ctx context.Context, cfg *config.Configuration) (storage, error) {
	store, err := sqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return storage{}, fmt.Errorf("open sqlite database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = store.Close() })

	return storage{
		gateway:  store,
		locks:    lock.NewKeyedMutex(),
		txm:      store,
		auditor:  store,
		queue:    store,
		repo:     store,
		settings: store,
		db:       store,
		idem:     cache.NewIdempotencyCache(cfg.Server.IdempotencyTTL),
	}, nil
}

// Reconciler returns a queue reconciler configured from cfg.Worker.
func (a *App) Reconciler(cfg config.WorkerConfig) *numbering.Reconciler {
	return numbering.NewReconciler(a.Engine, a.Queue, a.Vouchers.NumberingPolicy, numbering.ReconcilerConfig{
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
		Concurrency: cfg.Concurrency,
	})
}

// Close releases everything New opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
