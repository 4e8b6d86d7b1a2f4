package batch

import (
	"fmt"

	"plancore/pkg/entity"
	"plancore/pkg/services"
	"plancore/pkg/storage/filestore"
)

func errNotStaged(t entity.Type, id string) error {
	return fmt.Errorf("%s %s: %w", t, id, filestore.ErrNotFound)
}

// overlay is a staging view over the store: documents applied to it shadow
// persisted state without touching disk. Atomic batches validate the
// complete operation set against an overlay before the first durable
// write, which is what makes all-or-nothing possible over a store with no
// multi-write atomicity.
type overlay struct {
	base    services.View
	planID  string
	staged  map[entity.Type]map[string]entity.Document
	deleted map[entity.Type]map[string]bool
}

func newOverlay(base services.View, planID string) *overlay {
	return &overlay{
		base:    base,
		planID:  planID,
		staged:  make(map[entity.Type]map[string]entity.Document),
		deleted: make(map[entity.Type]map[string]bool),
	}
}

// stage shadows the persisted document with a new version. The id is
// stamped into the staged copy just as the store stamps it on a durable
// write, so anything reading through the view (cycle detection excluding a
// link's own old edge, for one) sees the same shape either way.
func (o *overlay) stage(t entity.Type, id string, doc entity.Document) {
	if o.staged[t] == nil {
		o.staged[t] = make(map[string]entity.Document)
	}
	staged := entity.Clone(doc)
	staged["id"] = id
	o.staged[t][id] = staged
	delete(o.deleted[t], id)
}

func (o *overlay) remove(t entity.Type, id string) {
	delete(o.staged[t], id)
	if o.deleted[t] == nil {
		o.deleted[t] = make(map[string]bool)
	}
	o.deleted[t][id] = true
}

func (o *overlay) PlanExists(planID string) bool {
	return o.base.PlanExists(planID)
}

func (o *overlay) Exists(planID string, t entity.Type, id string) (bool, error) {
	if o.deleted[t][id] {
		return false, nil
	}
	if _, ok := o.staged[t][id]; ok {
		return true, nil
	}
	return o.base.Exists(planID, t, id)
}

func (o *overlay) Get(planID string, t entity.Type, id string) (entity.Document, error) {
	if o.deleted[t][id] {
		return nil, errNotStaged(t, id)
	}
	if doc, ok := o.staged[t][id]; ok {
		return doc, nil
	}
	return o.base.Get(planID, t, id)
}

func (o *overlay) List(planID string, t entity.Type) ([]entity.Document, error) {
	persisted, err := o.base.List(planID, t)
	if err != nil {
		return nil, err
	}

	docs := make([]entity.Document, 0, len(persisted)+len(o.staged[t]))
	seen := make(map[string]bool, len(o.staged[t]))
	for id, doc := range o.staged[t] {
		docs = append(docs, doc)
		seen[id] = true
	}
	for _, doc := range persisted {
		id := entity.ID(doc)
		if seen[id] || o.deleted[t][id] {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
