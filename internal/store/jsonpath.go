// Copyright 2025 James Ross
package store

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// matchesJSONPath evaluates expr (e.g. "data.id" or "$.id") against a job's
// raw Data payload and reports whether the result equals entityID. Used by
// getStatusByEntityId to locate a job by an id nested in its opaque
// payload rather than by primary key.
func matchesJSONPath(data []byte, expr, entityID string) bool {
	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return false
	}
	result, err := jsonpath.Get(normalizeExpr(expr), parsed)
	if err != nil {
		return false
	}
	return fmt.Sprintf("%v", result) == entityID
}

// normalizeExpr accepts both the spec's bare "data.id" shorthand and a
// proper JSONPath root-anchored expression, since the store receives the
// raw payload (not a "data" wrapper) as the root of the evaluated tree.
func normalizeExpr(expr string) string {
	if len(expr) > 0 && expr[0] == '$' {
		return expr
	}
	const prefix = "data."
	if len(expr) > len(prefix) && expr[:len(prefix)] == prefix {
		return "$." + expr[len(prefix):]
	}
	return "$." + expr
}
