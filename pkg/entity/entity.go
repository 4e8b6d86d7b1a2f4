package entity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type identifies one of the entity kinds managed by the planning store.
// The set is closed: dispatch by entity type always goes through the
// lookup table below, never through reflection.
type Type string

const (
	Requirement Type = "requirement"
	Solution    Type = "solution"
	Phase       Type = "phase"
	Decision    Type = "decision"
	Artifact    Type = "artifact"
	Link        Type = "link"
)

var knownTypes = map[Type]bool{
	Requirement: true,
	Solution:    true,
	Phase:       true,
	Decision:    true,
	Artifact:    true,
	Link:        true,
}

// KnownTypes returns all entity types in a fixed order.
func KnownTypes() []Type {
	return []Type{Requirement, Solution, Phase, Decision, Artifact, Link}
}

// ParseType resolves a string to an entity type through the closed lookup
// table. Unknown names are a validation error, surfaced immediately.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !knownTypes[t] {
		return "", fmt.Errorf("unknown entity type: %q", s)
	}
	return t, nil
}

func (t Type) String() string {
	return string(t)
}

// Document is the payload of a persisted entity. Entities are schemaless
// JSON documents; field-level rules live in the owning domain service.
type Document = map[string]any

// NewID generates a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// ID extracts the identifier of a document, if present.
func ID(doc Document) string {
	id, _ := doc["id"].(string)
	return id
}

// Clone performs a deep copy of a document so staged or before-image
// copies never alias live state.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
