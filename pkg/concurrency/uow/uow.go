// Package uow implements the transaction-scoped facade every mutation in
// plancore passes through. A UnitOfWork applies two-phase locking over
// the file store: entity locks accumulate during the session and are
// released all at once on commit or rollback.
//
// Rollback is best-effort. The file store offers no multi-write
// atomicity, so the session records compensating actions (delete what was
// created, restore before-images of what was updated or deleted) and
// replays them in reverse chronological order on rollback, emitting a
// warning on the subscription channel documenting the limitation.
package uow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"plancore/pkg/concurrency/lock"
	"plancore/pkg/entity"
	"plancore/pkg/services"
	"plancore/pkg/storage/filestore"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

var (
	ErrSessionActive = errors.New("session already active")
	ErrNoSession     = errors.New("no active session")
	ErrDisposed      = errors.New("unit of work disposed")
)

// WarningBestEffortRollback is emitted on every rollback.
const WarningBestEffortRollback = "best_effort_rollback"

// Warning is a non-fatal notice delivered to subscribers, so callers can
// log limitations without failing the call that hit them.
type Warning struct {
	Code    string
	Message string
}

// BeginOptions configures one session.
type BeginOptions struct {
	// IsolationLevel is recorded for diagnostics. The file store serializes
	// access per entity through the lock manager regardless.
	IsolationLevel string
	// Timeout overrides the session's lock-acquire timeout.
	Timeout time.Duration
}

// Options configures a UnitOfWork.
type Options struct {
	// LockTimeout is the default bound on waiting for entity locks held by
	// other sessions.
	LockTimeout time.Duration
	Logger      logr.Logger
}

type undoKind int

const (
	undoCreate undoKind = iota // compensate by deleting the created entity
	undoUpdate                 // compensate by restoring the before-image
	undoDelete                 // compensate by re-creating the before-image
)

type compensation struct {
	kind       undoKind
	entityType entity.Type
	planID     string
	id         string
	before     entity.Document
}

// UnitOfWork scopes a logical call group: repositories, entity locks, and
// compensation records all hang off one session id, which doubles as the
// lock holder id.
type UnitOfWork struct {
	id       string
	store    *filestore.Store
	registry *services.Registry
	locks    *lock.FileLockManager
	log      logr.Logger

	mu          sync.Mutex
	active      bool
	disposed    bool
	depth       int
	opCount     int
	isolation   string
	lockTimeout time.Duration
	defaultWait time.Duration
	repos       map[entity.Type]*Repository
	undo        []compensation
	subs        []func(Warning)
}

// New creates a unit of work bound to a store and service registry. One
// UnitOfWork serves one logical call group at a time; Begin/Commit cycles
// may repeat until Dispose.
func New(store *filestore.Store, registry *services.Registry, opts Options) *UnitOfWork {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &UnitOfWork{
		id:          uuid.NewString(),
		store:       store,
		registry:    registry,
		locks:       store.Locks(),
		log:         log,
		defaultWait: opts.LockTimeout,
		repos:       make(map[entity.Type]*Repository),
	}
}

// ID returns the session id, which is also the lock holder id for every
// acquisition made through this unit of work.
func (u *UnitOfWork) ID() string {
	return u.id
}

// Begin marks the session active. Beginning an already-active session is
// an error; nested call groups should use Execute, which joins instead.
func (u *UnitOfWork) Begin(opts BeginOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.disposed {
		return ErrDisposed
	}
	if u.active {
		return ErrSessionActive
	}

	u.active = true
	u.isolation = opts.IsolationLevel
	u.lockTimeout = u.defaultWait
	if opts.Timeout > 0 {
		u.lockTimeout = opts.Timeout
	}
	u.opCount = 0
	u.undo = nil
	u.log.V(1).Info("session begun", "session", u.id, "isolation", u.isolation)
	return nil
}

// Commit deactivates the session, releases every lock acquired since
// Begin, and resets the operation counter.
func (u *UnitOfWork) Commit() error {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return ErrDisposed
	}
	if !u.active {
		u.mu.Unlock()
		return ErrNoSession
	}
	ops := u.opCount
	u.endSessionLocked()
	u.mu.Unlock()

	if err := u.locks.ReleaseAll(u.id); err != nil {
		return fmt.Errorf("commit: failed to release session locks: %w", err)
	}
	u.log.V(1).Info("session committed", "session", u.id, "operations", ops)
	return nil
}

// Rollback issues compensating actions for everything mutated since Begin,
// newest first, then deactivates and releases locks regardless of how much
// compensation succeeded. Every rollback emits a warning documenting that
// file-backed storage cannot guarantee true atomicity.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return ErrDisposed
	}
	if !u.active {
		u.mu.Unlock()
		return ErrNoSession
	}
	undo := u.undo
	u.endSessionLocked()
	u.mu.Unlock()

	var failed []error
	for i := len(undo) - 1; i >= 0; i-- {
		if err := u.compensate(undo[i]); err != nil {
			failed = append(failed, err)
			u.log.Error(err, "compensation failed",
				"session", u.id, "type", undo[i].entityType, "id", undo[i].id)
		}
	}

	u.emit(Warning{
		Code: WarningBestEffortRollback,
		Message: "rollback is best-effort: file-backed storage cannot guarantee " +
			"atomic rollback across multiple entities",
	})
	if len(failed) > 0 {
		u.emit(Warning{
			Code:    WarningBestEffortRollback,
			Message: fmt.Sprintf("%d compensating action(s) failed; storage may retain partial state", len(failed)),
		})
	}

	if err := u.locks.ReleaseAll(u.id); err != nil {
		failed = append(failed, err)
	}
	u.log.V(1).Info("session rolled back", "session", u.id, "compensations", len(undo), "failures", len(failed))
	return errors.Join(failed...)
}

// Execute begins a session (or joins the one already active), runs fn,
// commits on success, and rolls back and returns the error on failure.
// Only the outermost Execute commits or rolls back; a failure inside a
// nested call propagates without undoing the outer session mid-flight.
func (u *UnitOfWork) Execute(fn func(*UnitOfWork) error) error {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return ErrDisposed
	}
	if u.active {
		u.depth++
		u.mu.Unlock()

		err := fn(u)

		u.mu.Lock()
		u.depth--
		u.mu.Unlock()
		return err
	}
	u.mu.Unlock()

	if err := u.Begin(BeginOptions{}); err != nil {
		return err
	}

	err := fn(u)
	if err != nil {
		if rbErr := u.Rollback(); rbErr != nil {
			u.log.Error(rbErr, "rollback after failed execute", "session", u.id)
		}
		return err
	}
	return u.Commit()
}

// Repository returns the session's repository for an entity type, one
// cached instance per type. All repositories share the session's lock
// holder id, so cross-repository access stays serialized per resource.
func (u *UnitOfWork) Repository(t entity.Type) (*Repository, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.disposed {
		return nil, ErrDisposed
	}
	if repo, ok := u.repos[t]; ok {
		return repo, nil
	}

	svc, err := u.registry.Get(t)
	if err != nil {
		return nil, err
	}
	repo := &Repository{uow: u, entityType: t, service: svc}
	u.repos[t] = repo
	return repo, nil
}

// OnWarning subscribes to rollback-limitation notices. Subscribers are
// invoked synchronously on the rolling-back goroutine.
func (u *UnitOfWork) OnWarning(fn func(Warning)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.subs = append(u.subs, fn)
}

// OperationCount returns the number of mutations in the current session.
func (u *UnitOfWork) OperationCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.opCount
}

// Active reports whether a session is in progress.
func (u *UnitOfWork) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active
}

// Dispose permanently tears the unit of work down. An active session is
// rolled back first. All later calls fail with ErrDisposed.
func (u *UnitOfWork) Dispose() {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return
	}
	active := u.active
	u.mu.Unlock()

	if active {
		if err := u.Rollback(); err != nil {
			u.log.Error(err, "rollback during dispose", "session", u.id)
		}
	}

	u.mu.Lock()
	u.disposed = true
	u.mu.Unlock()
}

func (u *UnitOfWork) endSessionLocked() {
	u.active = false
	u.depth = 0
	u.opCount = 0
	u.undo = nil
}

func (u *UnitOfWork) compensate(c compensation) error {
	switch c.kind {
	case undoCreate:
		return u.store.Delete(c.planID, c.entityType, c.id, u.id)
	case undoUpdate:
		return u.store.Update(c.planID, c.entityType, c.id, c.before, u.id)
	case undoDelete:
		_, err := u.store.Create(c.planID, c.entityType, c.before, u.id)
		return err
	default:
		return fmt.Errorf("unknown compensation kind: %d", c.kind)
	}
}

func (u *UnitOfWork) emit(w Warning) {
	u.mu.Lock()
	subs := make([]func(Warning), len(u.subs))
	copy(subs, u.subs)
	u.mu.Unlock()

	for _, fn := range subs {
		fn(w)
	}
}

func (u *UnitOfWork) recordUndo(c compensation) {
	u.mu.Lock()
	u.undo = append(u.undo, c)
	u.opCount++
	u.mu.Unlock()
}

func (u *UnitOfWork) requireActive() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.disposed {
		return ErrDisposed
	}
	if !u.active {
		return ErrNoSession
	}
	return nil
}
