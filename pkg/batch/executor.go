// Package batch applies a heterogeneous list of entity operations as one
// logical unit on top of the unit of work. Operations may wire themselves
// together with temporary ids before any real id exists; the executor
// resolves those placeholders, validates the complete graph (including
// dependency cycles), and in atomic mode guarantees that a failure
// anywhere leaves no partial state behind.
package batch

import (
	"fmt"
	"time"

	"plancore/pkg/concurrency/uow"
	"plancore/pkg/entity"
	"plancore/pkg/services"
	"plancore/pkg/storage/filestore"

	"github.com/go-logr/logr"
)

// Action is a batch operation verb.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Operation is one entry in a batch. Create operations may declare a
// TempID placeholder; later operations may reference it in identifier-
// shaped fields of their payload or as their target ID.
type Operation struct {
	EntityType string
	Action     Action // defaults to create
	TempID     string // optional placeholder, create only
	ID         string // target id for update/delete; may be a placeholder
	Payload    entity.Document
}

// Request is one executeBatch call.
type Request struct {
	PlanID     string
	Operations []Operation
	Atomic     bool
}

// OperationResult reports one operation's outcome, in input order.
type OperationResult struct {
	Success bool
	ID      string
	Error   string
}

// Result is the batch return contract. In non-atomic mode Results may mix
// successes and failures; in atomic mode the call either returns all
// successes or an error with nothing applied.
type Result struct {
	Results []OperationResult
	TempIDs map[string]string
}

// Options configures an Executor.
type Options struct {
	// LockTimeout bounds entity-lock waits for the sessions the executor
	// opens.
	LockTimeout time.Duration
	Logger      logr.Logger
}

// Executor runs batches. Each call gets its own unit-of-work session.
type Executor struct {
	store       *filestore.Store
	registry    *services.Registry
	lockTimeout time.Duration
	log         logr.Logger
}

// NewExecutor creates a batch executor over a store and service registry.
func NewExecutor(store *filestore.Store, registry *services.Registry, opts Options) *Executor {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Executor{
		store:       store,
		registry:    registry,
		lockTimeout: opts.LockTimeout,
		log:         log,
	}
}

// resolvedOp is an operation after structural validation, with its entity
// type parsed and (for creates) its real id pre-generated.
type resolvedOp struct {
	index      int
	entityType entity.Type
	action     Action
	tempID     string
	id         string
	payload    entity.Document
}

// ExecuteBatch validates the plan and the structural shape of every
// operation before any mutation, then executes the operations strictly in
// input order inside one unit-of-work session.
func (e *Executor) ExecuteBatch(req Request) (*Result, error) {
	if req.PlanID == "" {
		return nil, fmt.Errorf("batch request requires a plan id")
	}
	if !e.store.PlanExists(req.PlanID) {
		return nil, fmt.Errorf("plan %s: %w", req.PlanID, filestore.ErrPlanNotFound)
	}

	ops, err := e.validateShape(req.Operations)
	if err != nil {
		return nil, err
	}

	e.log.V(1).Info("executing batch", "plan", req.PlanID, "operations", len(ops), "atomic", req.Atomic)
	if req.Atomic {
		return e.executeAtomic(req.PlanID, ops)
	}
	return e.executePartial(req.PlanID, ops)
}

// validateShape checks every operation's structure (known entity type,
// known action, required pieces present, temp ids declared at most once)
// before anything touches storage.
func (e *Executor) validateShape(operations []Operation) ([]resolvedOp, error) {
	ops := make([]resolvedOp, 0, len(operations))
	declared := make(map[string]bool)

	for i, op := range operations {
		t, err := entity.ParseType(op.EntityType)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}

		action := op.Action
		if action == "" {
			action = ActionCreate
		}

		switch action {
		case ActionCreate:
			if op.Payload == nil {
				return nil, fmt.Errorf("operation %d: create requires a payload", i)
			}
			if op.TempID != "" {
				if !isPlaceholder(op.TempID) {
					return nil, fmt.Errorf("operation %d: temp id %q must start with '$'", i, op.TempID)
				}
				if declared[op.TempID] {
					return nil, fmt.Errorf("operation %d: temp id %q declared twice", i, op.TempID)
				}
				declared[op.TempID] = true
			}
		case ActionUpdate:
			if op.ID == "" {
				return nil, fmt.Errorf("operation %d: update requires a target id", i)
			}
			if op.Payload == nil {
				return nil, fmt.Errorf("operation %d: update requires a payload", i)
			}
		case ActionDelete:
			if op.ID == "" {
				return nil, fmt.Errorf("operation %d: delete requires a target id", i)
			}
		default:
			return nil, fmt.Errorf("operation %d: unknown action %q", i, op.Action)
		}

		ops = append(ops, resolvedOp{
			index:      i,
			entityType: t,
			action:     action,
			tempID:     op.TempID,
			id:         op.ID,
			payload:    op.Payload,
		})
	}
	return ops, nil
}

// executeAtomic stages and validates the complete operation set against an
// in-memory overlay of the store: nothing durable happens until every
// operation has passed, including referential and cycle checks over the
// combined persisted + staged state. Only then are the operations applied,
// inside one session, so a persistence failure still unwinds through the
// unit of work.
func (e *Executor) executeAtomic(planID string, ops []resolvedOp) (*Result, error) {
	view := newOverlay(e.store, planID)
	mapping := make(map[string]string)
	staged := make([]resolvedOp, 0, len(ops))

	for _, op := range ops {
		prepared, err := e.prepare(view, planID, op, mapping)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s %s): %w", op.index, op.action, op.entityType, err)
		}

		switch prepared.action {
		case ActionCreate, ActionUpdate:
			view.stage(prepared.entityType, prepared.id, prepared.payload)
		case ActionDelete:
			view.remove(prepared.entityType, prepared.id)
		}
		staged = append(staged, prepared)
	}

	u := uow.New(e.store, e.registry, uow.Options{LockTimeout: e.lockTimeout, Logger: e.log})
	defer u.Dispose()

	err := u.Execute(func(u *uow.UnitOfWork) error {
		for _, op := range staged {
			if err := e.apply(u, planID, op); err != nil {
				return fmt.Errorf("operation %d (%s %s): %w", op.index, op.action, op.entityType, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("atomic batch failed: %w", err)
	}

	results := make([]OperationResult, len(staged))
	for i, op := range staged {
		results[i] = OperationResult{Success: true, ID: op.id}
	}
	return &Result{Results: results, TempIDs: mapping}, nil
}

// executePartial applies operations one at a time, capturing each failure
// in the results array and carrying on. The call itself succeeds even when
// individual operations fail.
func (e *Executor) executePartial(planID string, ops []resolvedOp) (*Result, error) {
	mapping := make(map[string]string)
	results := make([]OperationResult, len(ops))

	u := uow.New(e.store, e.registry, uow.Options{LockTimeout: e.lockTimeout, Logger: e.log})
	defer u.Dispose()

	err := u.Execute(func(u *uow.UnitOfWork) error {
		for i, op := range ops {
			prepared, err := e.prepare(e.store, planID, op, mapping)
			if err == nil {
				err = e.apply(u, planID, prepared)
			}
			if err != nil {
				results[i] = OperationResult{Error: err.Error()}
				if op.tempID != "" {
					delete(mapping, op.tempID)
				}
				continue
			}
			results[i] = OperationResult{Success: true, ID: prepared.id}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Results: results, TempIDs: mapping}, nil
}

// prepare resolves temp ids and runs the owning service's validation
// against the given view. For creates it pins the real id (registering the
// operation's temp id in the mapping) so later operations can reference it.
func (e *Executor) prepare(view services.View, planID string, op resolvedOp, mapping map[string]string) (resolvedOp, error) {
	svc, err := e.registry.Get(op.entityType)
	if err != nil {
		return op, err
	}

	payload, err := resolveDocument(op.payload, mapping)
	if err != nil {
		return op, err
	}
	op.payload = payload

	if op.id != "" {
		id, err := resolveID(op.id, mapping)
		if err != nil {
			return op, err
		}
		op.id = id
	}

	switch op.action {
	case ActionCreate:
		op.id = entity.NewID()
		if op.payload == nil {
			op.payload = entity.Document{}
		} else {
			op.payload = entity.Clone(op.payload)
		}
		op.payload["id"] = op.id
		if err := svc.ValidateCreate(view, planID, op.payload); err != nil {
			return op, err
		}
		if op.tempID != "" {
			mapping[op.tempID] = op.id
		}
	case ActionUpdate:
		if err := svc.ValidateUpdate(view, planID, op.id, op.payload); err != nil {
			return op, err
		}
	case ActionDelete:
		if err := svc.ValidateDelete(view, planID, op.id); err != nil {
			return op, err
		}
	}
	return op, nil
}

// apply persists one prepared operation through the session's repository.
func (e *Executor) apply(u *uow.UnitOfWork, planID string, op resolvedOp) error {
	repo, err := u.Repository(op.entityType)
	if err != nil {
		return err
	}

	switch op.action {
	case ActionCreate:
		_, err = repo.Create(planID, op.payload)
	case ActionUpdate:
		err = repo.Update(planID, op.id, op.payload)
	case ActionDelete:
		err = repo.Delete(planID, op.id)
	default:
		err = fmt.Errorf("unknown action %q", op.action)
	}
	return err
}
