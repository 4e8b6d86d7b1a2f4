package entity

import "strings"

// Link relation types. Ordering relations express "must come before" edges
// between entities and are the only ones subject to cycle detection.
const (
	RelationDependsOn  = "depends_on"
	RelationBlocks     = "blocks"
	RelationReferences = "references"
	RelationImplements = "implements"
	RelationSupersedes = "supersedes"
)

var orderingRelations = map[string]bool{
	RelationDependsOn: true,
	RelationBlocks:    true,
}

// IsOrderingRelation reports whether a link relation type participates in
// the dependency graph used for cycle detection.
func IsOrderingRelation(relationType string) bool {
	return orderingRelations[relationType]
}

// IsIdentifierField reports whether a document field is identifier-shaped:
// "id", or any field named with an "Id"/"Ids" suffix (parentId, sourceId,
// targetId, requirementIds, ...). Temp-id placeholders are substituted in
// these fields only; free text is never rewritten even if it contains a
// placeholder-looking substring.
func IsIdentifierField(name string) bool {
	if name == "id" {
		return true
	}
	return strings.HasSuffix(name, "Id") || strings.HasSuffix(name, "Ids")
}
