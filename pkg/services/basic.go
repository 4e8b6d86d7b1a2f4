package services

import (
	"plancore/pkg/entity"
)

// basicService covers the entity types whose structural rules are just
// "these fields must be present": requirements, solutions, decisions, and
// artifacts. Field-level semantics beyond presence are the dashboard
// layer's concern, not this substrate's.
type basicService struct {
	entityType entity.Type
	required   []string
}

func (s *basicService) EntityType() entity.Type {
	return s.entityType
}

func (s *basicService) ValidateCreate(view View, planID string, doc entity.Document) error {
	return requireFields(s.entityType, doc, s.required...)
}

func (s *basicService) ValidateUpdate(view View, planID, id string, doc entity.Document) error {
	if err := requireExists(view, planID, s.entityType, id); err != nil {
		return err
	}
	return requireFields(s.entityType, doc, s.required...)
}

func (s *basicService) ValidateDelete(view View, planID, id string) error {
	return requireExists(view, planID, s.entityType, id)
}

// NewRequirementService validates requirement payloads.
func NewRequirementService() Service {
	return &basicService{entityType: entity.Requirement, required: []string{"title"}}
}

// NewSolutionService validates solution payloads.
func NewSolutionService() Service {
	return &basicService{entityType: entity.Solution, required: []string{"title"}}
}

// NewDecisionService validates decision payloads.
func NewDecisionService() Service {
	return &basicService{entityType: entity.Decision, required: []string{"title"}}
}

// NewArtifactService validates artifact payloads.
func NewArtifactService() Service {
	return &basicService{entityType: entity.Artifact, required: []string{"name"}}
}
