package mcpmgr

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// validateArguments checks args against the tool's input schema. Schemas the
// validator cannot resolve are not enforced.
func validateArguments(tool Tool, args map[string]any) error {
	schema, ok := decodeSchema(tool.InputSchema)
	if !ok {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	instance, err := normalizeJSON(args)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArguments, tool.Name, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArguments, tool.Name, err)
	}
	return nil
}

func decodeSchema(raw any) (*jsonschema.Schema, bool) {
	switch s := raw.(type) {
	case nil:
		return nil, false
	case *jsonschema.Schema:
		return s, s != nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, false
	}
	return &schema, true
}

// normalizeJSON round-trips v so numbers and nested values take their JSON
// decoded forms.
func normalizeJSON(v map[string]any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
