package services

import (
	"fmt"

	"plancore/pkg/entity"
)

// phaseService validates phases. Phases form a tree through parentId; a
// parent must exist and the chain of ancestors must never loop back.
type phaseService struct{}

// NewPhaseService validates phase payloads and their parent references.
func NewPhaseService() Service {
	return &phaseService{}
}

func (s *phaseService) EntityType() entity.Type {
	return entity.Phase
}

func (s *phaseService) ValidateCreate(view View, planID string, doc entity.Document) error {
	if err := requireFields(entity.Phase, doc, "name"); err != nil {
		return err
	}
	return s.validateParent(view, planID, entity.ID(doc), doc)
}

func (s *phaseService) ValidateUpdate(view View, planID, id string, doc entity.Document) error {
	if err := requireExists(view, planID, entity.Phase, id); err != nil {
		return err
	}
	if err := requireFields(entity.Phase, doc, "name"); err != nil {
		return err
	}
	return s.validateParent(view, planID, id, doc)
}

func (s *phaseService) ValidateDelete(view View, planID, id string) error {
	return requireExists(view, planID, entity.Phase, id)
}

// validateParent checks that a declared parent exists and that following
// parentId upward from it never reaches the phase being validated. The
// walk is bounded by the number of persisted phases so a corrupt store
// cannot loop forever.
func (s *phaseService) validateParent(view View, planID, id string, doc entity.Document) error {
	parentID := stringField(doc, "parentId")
	if parentID == "" {
		return nil
	}
	if parentID == id && id != "" {
		return fmt.Errorf("%w: phase %s cannot be its own parent", ErrCircularDependency, id)
	}
	if err := requireExists(view, planID, entity.Phase, parentID); err != nil {
		return fmt.Errorf("parent phase: %w", err)
	}

	phases, err := view.List(planID, entity.Phase)
	if err != nil {
		return err
	}

	current := parentID
	for range phases {
		parent, err := view.Get(planID, entity.Phase, current)
		if err != nil {
			return err
		}
		next := stringField(parent, "parentId")
		if next == "" {
			return nil
		}
		if next == id && id != "" {
			return fmt.Errorf("%w: phase %s is an ancestor of its declared parent", ErrCircularDependency, id)
		}
		current = next
	}
	return nil
}
