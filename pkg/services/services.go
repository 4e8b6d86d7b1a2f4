// Package services holds the per-entity domain services the transaction
// substrate delegates to. Each service owns the structural validation of
// its entity type (required fields, referential checks, cycle detection
// for ordering links) and nothing else; persistence belongs to the store
// and session semantics to the unit of work.
package services

import (
	"errors"
	"fmt"

	"plancore/pkg/entity"
)

var (
	// ErrValidation marks structural problems in a payload. Callers surface
	// these immediately and never retry.
	ErrValidation = errors.New("validation failed")

	// ErrCircularDependency marks an ordering link that would close a cycle.
	ErrCircularDependency = errors.New("circular dependency detected")
)

// View is read access to persisted entities. The store implements it
// directly; the batch executor implements it with a staging overlay so
// atomic batches can be validated as a complete set before any durable
// write.
type View interface {
	PlanExists(planID string) bool
	Exists(planID string, t entity.Type, id string) (bool, error)
	Get(planID string, t entity.Type, id string) (entity.Document, error)
	List(planID string, t entity.Type) ([]entity.Document, error)
}

// Service validates operations on one entity type. Implementations are
// stateless; all persisted state comes in through the View.
type Service interface {
	EntityType() entity.Type
	ValidateCreate(view View, planID string, doc entity.Document) error
	ValidateUpdate(view View, planID, id string, doc entity.Document) error
	ValidateDelete(view View, planID, id string) error
}

// Registry is the closed dispatch table from entity type to its service.
type Registry struct {
	services map[entity.Type]Service
}

// NewRegistry builds the registry covering every known entity type.
func NewRegistry() *Registry {
	r := &Registry{services: make(map[entity.Type]Service)}
	for _, svc := range []Service{
		NewRequirementService(),
		NewSolutionService(),
		NewPhaseService(),
		NewDecisionService(),
		NewArtifactService(),
		NewLinkService(),
	} {
		r.services[svc.EntityType()] = svc
	}
	return r
}

// Get resolves the service owning an entity type.
func (r *Registry) Get(t entity.Type) (Service, error) {
	svc, ok := r.services[t]
	if !ok {
		return nil, fmt.Errorf("no service registered for entity type %q", t)
	}
	return svc, nil
}

// requireFields checks that every named field is present and non-empty.
func requireFields(t entity.Type, doc entity.Document, fields ...string) error {
	for _, field := range fields {
		v, ok := doc[field]
		if !ok {
			return fmt.Errorf("%w: %s requires field %q", ErrValidation, t, field)
		}
		if s, isString := v.(string); isString && s == "" {
			return fmt.Errorf("%w: %s field %q cannot be empty", ErrValidation, t, field)
		}
	}
	return nil
}

// requireExists checks that the target entity is persisted (or staged,
// under an overlay view).
func requireExists(view View, planID string, t entity.Type, id string) error {
	ok, err := view.Exists(planID, t, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s not found in plan %s", t, id, planID)
	}
	return nil
}

// findEntity locates an id across all entity types. Links may point at any
// entity kind, so endpoint checks search the whole closed set.
func findEntity(view View, planID, id string) (entity.Type, bool, error) {
	for _, t := range entity.KnownTypes() {
		ok, err := view.Exists(planID, t, id)
		if err != nil {
			return "", false, err
		}
		if ok {
			return t, true, nil
		}
	}
	return "", false, nil
}

func stringField(doc entity.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}
