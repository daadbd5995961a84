package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	// Expand definitions inline instead of using $refs
	DoNotReference: true,
}

// SchemaFor reflects the JSON Schema of an input struct into the map form
// providers expect. Fields without omitempty are required.
func SchemaFor(v any) (map[string]any, error) {
	schema := reflector.Reflect(v)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// Describe sets property descriptions on a reflected schema. Input structs
// call it from JSONSchemaExtend so descriptions may contain commas.
func Describe(s *jsonschema.Schema, descriptions map[string]string) {
	if s.Properties == nil {
		return
	}
	for name, text := range descriptions {
		if p, ok := s.Properties.Get(name); ok {
			p.Description = text
		}
	}
}
