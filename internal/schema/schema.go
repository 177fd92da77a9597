// Copyright 2025 James Ross
// Package schema provides a JSON-Schema-backed handler helper so a
// handler author can supply a schema document instead of hand-writing
// validateAndParse.
package schema

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchemaHandler compiles a JSON Schema once and validates raw
// payloads against it on every call, matching the registry's
// validateAndParse(raw) -> parsed | null contract: ValidateAndParse
// returns nil on schema violation.
type JSONSchemaHandler struct {
	schema *gojsonschema.Schema
}

// NewJSONSchemaHandler compiles schemaJSON (a JSON Schema document) once.
func NewJSONSchemaHandler(schemaJSON []byte) (*JSONSchemaHandler, error) {
	loader := gojsonschema.NewBytesLoader(schemaJSON)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, err
	}
	return &JSONSchemaHandler{schema: compiled}, nil
}

// ValidateAndParse validates raw against the compiled schema, returning
// the parsed document or nil if it violates the schema.
func (h *JSONSchemaHandler) ValidateAndParse(raw []byte) (map[string]interface{}, error) {
	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		return nil, nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil
	}
	return parsed, nil
}
