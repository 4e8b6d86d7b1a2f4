package services

import (
	"fmt"

	"plancore/pkg/entity"
)

// linkService validates links between entities. Both endpoints must exist
// somewhere in the plan, and links whose relation type expresses ordering
// (depends_on, blocks) are rejected when they would close a cycle in the
// dependency graph.
type linkService struct{}

// NewLinkService validates link payloads, endpoint references, and
// dependency cycles.
func NewLinkService() Service {
	return &linkService{}
}

func (s *linkService) EntityType() entity.Type {
	return entity.Link
}

func (s *linkService) ValidateCreate(view View, planID string, doc entity.Document) error {
	if err := s.validateShape(view, planID, doc); err != nil {
		return err
	}
	return s.validateNoCycle(view, planID, entity.ID(doc), doc)
}

func (s *linkService) ValidateUpdate(view View, planID, id string, doc entity.Document) error {
	if err := requireExists(view, planID, entity.Link, id); err != nil {
		return err
	}
	if err := s.validateShape(view, planID, doc); err != nil {
		return err
	}
	return s.validateNoCycle(view, planID, id, doc)
}

func (s *linkService) ValidateDelete(view View, planID, id string) error {
	return requireExists(view, planID, entity.Link, id)
}

func (s *linkService) validateShape(view View, planID string, doc entity.Document) error {
	if err := requireFields(entity.Link, doc, "sourceId", "targetId", "relationType"); err != nil {
		return err
	}

	sourceID := stringField(doc, "sourceId")
	targetID := stringField(doc, "targetId")
	if sourceID == targetID {
		return fmt.Errorf("%w: link source and target are the same entity %s", ErrValidation, sourceID)
	}

	for _, endpoint := range []string{sourceID, targetID} {
		_, found, err := findEntity(view, planID, endpoint)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("link endpoint %s not found in plan %s", endpoint, planID)
		}
	}
	return nil
}

// validateNoCycle builds the ordering graph from every persisted link plus
// the proposed one and rejects the link if the combined graph has a cycle.
// excludeID skips the persisted copy of a link being updated. Non-ordering
// relation types (references, implements, ...) never participate.
func (s *linkService) validateNoCycle(view View, planID, excludeID string, doc entity.Document) error {
	relation := stringField(doc, "relationType")
	if !entity.IsOrderingRelation(relation) {
		return nil
	}

	links, err := view.List(planID, entity.Link)
	if err != nil {
		return err
	}

	graph := NewDependencyGraph()
	for _, link := range links {
		if excludeID != "" && entity.ID(link) == excludeID {
			continue
		}
		if !entity.IsOrderingRelation(stringField(link, "relationType")) {
			continue
		}
		graph.AddEdge(stringField(link, "sourceId"), stringField(link, "targetId"))
	}
	graph.AddEdge(stringField(doc, "sourceId"), stringField(doc, "targetId"))

	if graph.HasCycle() {
		return fmt.Errorf("%w: %s link from %s to %s", ErrCircularDependency,
			relation, stringField(doc, "sourceId"), stringField(doc, "targetId"))
	}
	return nil
}
