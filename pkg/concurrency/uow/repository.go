package uow

import (
	"fmt"

	"plancore/pkg/concurrency/lock"
	"plancore/pkg/entity"
	"plancore/pkg/services"
)

// Repository is the session-scoped gateway to one entity type. It runs the
// owning service's validation, takes the entity lock under the session's
// holder id (skipping re-acquisition when the session already holds it),
// persists through the store, and records the compensating action rollback
// would need.
//
// Locks taken here are not released per call; they accumulate until the
// session commits or rolls back.
type Repository struct {
	uow        *UnitOfWork
	entityType entity.Type
	service    services.Service
}

// EntityType returns the entity type this repository serves.
func (r *Repository) EntityType() entity.Type {
	return r.entityType
}

// Create validates and persists a new entity, returning its id. An id
// already present in the document is respected, which is how the batch
// executor pins pre-generated ids for temp-id mapping.
func (r *Repository) Create(planID string, doc entity.Document) (string, error) {
	if err := r.uow.requireActive(); err != nil {
		return "", err
	}
	if err := r.service.ValidateCreate(r.uow.store, planID, doc); err != nil {
		return "", err
	}

	id := entity.ID(doc)
	if id == "" {
		id = entity.NewID()
		doc = entity.Clone(doc)
		doc["id"] = id
	}

	if err := r.ensureLocked(id); err != nil {
		return "", err
	}
	if _, err := r.uow.store.Create(planID, r.entityType, doc, r.uow.id); err != nil {
		return "", err
	}

	r.uow.recordUndo(compensation{
		kind:       undoCreate,
		entityType: r.entityType,
		planID:     planID,
		id:         id,
	})
	return id, nil
}

// Get reads one entity.
func (r *Repository) Get(planID, id string) (entity.Document, error) {
	if err := r.uow.requireActive(); err != nil {
		return nil, err
	}
	return r.uow.store.Get(planID, r.entityType, id)
}

// Update validates and overwrites an entity, keeping its before-image for
// rollback.
func (r *Repository) Update(planID, id string, doc entity.Document) error {
	if err := r.uow.requireActive(); err != nil {
		return err
	}
	if err := r.service.ValidateUpdate(r.uow.store, planID, id, doc); err != nil {
		return err
	}
	if err := r.ensureLocked(id); err != nil {
		return err
	}

	before, err := r.uow.store.Get(planID, r.entityType, id)
	if err != nil {
		return err
	}
	if err := r.uow.store.Update(planID, r.entityType, id, doc, r.uow.id); err != nil {
		return err
	}

	r.uow.recordUndo(compensation{
		kind:       undoUpdate,
		entityType: r.entityType,
		planID:     planID,
		id:         id,
		before:     before,
	})
	return nil
}

// Delete validates and removes an entity, keeping its before-image for
// rollback.
func (r *Repository) Delete(planID, id string) error {
	if err := r.uow.requireActive(); err != nil {
		return err
	}
	if err := r.service.ValidateDelete(r.uow.store, planID, id); err != nil {
		return err
	}
	if err := r.ensureLocked(id); err != nil {
		return err
	}

	before, err := r.uow.store.Get(planID, r.entityType, id)
	if err != nil {
		return err
	}
	if err := r.uow.store.Delete(planID, r.entityType, id, r.uow.id); err != nil {
		return err
	}

	r.uow.recordUndo(compensation{
		kind:       undoDelete,
		entityType: r.entityType,
		planID:     planID,
		id:         id,
		before:     before,
	})
	return nil
}

// ensureLocked takes the entity's lock for the session unless the session
// already holds it from an earlier operation.
func (r *Repository) ensureLocked(id string) error {
	key := lock.ResourceKey(r.entityType.String(), id)
	if r.uow.locks.HeldByUs(key, r.uow.id) {
		return nil
	}

	res, err := r.uow.locks.Acquire(r.entityType.String(), id, r.uow.id,
		lock.WithAcquireTimeout(r.uow.lockTimeout))
	if err != nil {
		return err
	}
	if !res.Acquired {
		return fmt.Errorf("could not lock %s: %s", key, res.Reason)
	}
	return nil
}
