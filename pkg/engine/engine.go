// Package engine wires the subsystems together behind one handle: logger,
// lock manager, file store, service registry, unit-of-work sessions, and
// the batch executor. Callers hold an Engine and never assemble the parts
// themselves.
package engine

import (
	"fmt"

	"plancore/pkg/batch"
	"plancore/pkg/concurrency/lock"
	"plancore/pkg/concurrency/uow"
	"plancore/pkg/config"
	"plancore/pkg/entity"
	"plancore/pkg/logging"
	"plancore/pkg/services"
	"plancore/pkg/storage/filestore"
)

// Engine is the assembled system.
type Engine struct {
	cfg      *config.Config
	log      *logging.Logger
	locks    *lock.Manager
	fileLock *lock.FileLockManager
	store    *filestore.Store
	registry *services.Registry
	batch    *batch.Executor
}

// New assembles an engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	manager := lock.NewManager(lock.Options{
		DefaultAcquireTimeout: cfg.Locking.AcquireTimeout.Std(),
		DefaultTTL:            cfg.Locking.TTL.Std(),
		Logger:                log.Logger.WithName("lock"),
	})
	fileLock := lock.NewFileLockManager(manager)

	store, err := filestore.NewStore(cfg.DataDir, fileLock, filestore.Options{
		LockTimeout: cfg.Locking.AcquireTimeout.Std(),
		Logger:      log.Logger.WithName("store"),
	})
	if err != nil {
		manager.Dispose()
		log.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry := services.NewRegistry()

	return &Engine{
		cfg:      cfg,
		log:      log,
		locks:    manager,
		fileLock: fileLock,
		store:    store,
		registry: registry,
		batch: batch.NewExecutor(store, registry, batch.Options{
			LockTimeout: cfg.Locking.AcquireTimeout.Std(),
			Logger:      log.Logger.WithName("batch"),
		}),
	}, nil
}

// Store exposes the underlying file store for direct reads and for
// operations outside a session.
func (e *Engine) Store() *filestore.Store {
	return e.store
}

// Locks exposes the entity lock manager.
func (e *Engine) Locks() *lock.FileLockManager {
	return e.fileLock
}

// Services exposes the validation registry.
func (e *Engine) Services() *services.Registry {
	return e.registry
}

// CreatePlan creates a new plan with the given manifest document.
func (e *Engine) CreatePlan(planID string, manifest entity.Document) error {
	return e.store.CreatePlan(planID, manifest)
}

// NewUnitOfWork opens a fresh unit of work over the engine's store. The
// caller owns it and must Dispose it.
func (e *Engine) NewUnitOfWork() *uow.UnitOfWork {
	return uow.New(e.store, e.registry, uow.Options{
		LockTimeout: e.cfg.Locking.AcquireTimeout.Std(),
		Logger:      e.log.Logger.WithName("uow"),
	})
}

// Batch runs a batch request through the engine's executor.
func (e *Engine) Batch(req batch.Request) (*batch.Result, error) {
	return e.batch.ExecuteBatch(req)
}

// Close disposes the lock manager and closes the log output. Safe to call
// once; in-flight lock waiters resolve as disposed.
func (e *Engine) Close() error {
	e.locks.Dispose()
	return e.log.Close()
}
