package batch

import (
	"fmt"
	"strings"

	"plancore/pkg/entity"
)

// Temp ids are placeholder identifiers, conventionally "$0", "$1", ...,
// declared by a create operation and referenced by later operations in
// identifier-shaped fields only. Free-text fields are never rewritten even
// when they contain a placeholder-looking substring.

func isPlaceholder(s string) bool {
	return strings.HasPrefix(s, "$")
}

// resolveID maps one identifier value through the temp-id mapping. A
// placeholder with no mapping is a dangling reference: the declaring
// operation either does not exist or comes later in the batch.
func resolveID(value string, mapping map[string]string) (string, error) {
	if real, ok := mapping[value]; ok {
		return real, nil
	}
	if isPlaceholder(value) {
		return "", fmt.Errorf("dangling temp-id reference %q: not declared by an earlier operation", value)
	}
	return value, nil
}

// resolveDocument substitutes temp ids in the identifier-shaped fields of
// a document, recursing into nested objects and id arrays. The input is
// never mutated.
func resolveDocument(doc entity.Document, mapping map[string]string) (entity.Document, error) {
	if doc == nil {
		return nil, nil
	}
	out := make(entity.Document, len(doc))
	for field, value := range doc {
		resolved, err := resolveField(field, value, mapping)
		if err != nil {
			return nil, err
		}
		out[field] = resolved
	}
	return out, nil
}

func resolveField(field string, value any, mapping map[string]string) (any, error) {
	switch v := value.(type) {
	case string:
		if !entity.IsIdentifierField(field) {
			return v, nil
		}
		return resolveID(v, mapping)
	case []any:
		if !entity.IsIdentifierField(field) {
			return v, nil
		}
		out := make([]any, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				out[i] = item
				continue
			}
			resolved, err := resolveID(s, mapping)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		return resolveDocument(v, mapping)
	default:
		return value, nil
	}
}
