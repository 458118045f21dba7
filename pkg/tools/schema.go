package tools

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects the argument struct T into a JSON schema and the
// flat parameter list used for prompts and validation.
//
// Supported tags:
//   - json:"name" - Parameter name
//   - jsonschema:"required" - Mark as required
//   - jsonschema:"description=..." - Parameter description
//   - jsonschema:"enum=a,enum=b" - Allowed values
func generateSchema[T any]() (map[string]any, []ToolParameter, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	params := make([]ToolParameter, 0)
	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			p := ToolParameter{
				Name:        pair.Key,
				Type:        pair.Value.Type,
				Description: pair.Value.Description,
				Required:    slices.Contains(schema.Required, pair.Key),
			}
			if p.Type == "" {
				p.Type = "any"
			}
			for _, v := range pair.Value.Enum {
				p.Enum = append(p.Enum, fmt.Sprint(v))
			}
			params = append(params, p)
		}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")

	return out, params, nil
}

// validateArgs checks args against the parameter contract: required
// parameters are present, values have the declared JSON type and enums hold.
func validateArgs(info ToolInfo, args map[string]any) error {
	known := make(map[string]bool, len(info.Parameters))
	for _, p := range info.Parameters {
		known[p.Name] = true
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if !hasType(v, p.Type) {
			return fmt.Errorf("parameter %q must be of type %s", p.Name, p.Type)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, fmt.Sprint(v)) {
			return fmt.Errorf("parameter %q must be one of %v, got %v", p.Name, p.Enum, v)
		}
		if p.Required && p.Type == "string" && v.(string) == "" {
			return fmt.Errorf("parameter %q must not be empty", p.Name)
		}
	}
	for name := range args {
		if !known[name] {
			return fmt.Errorf("unexpected parameter %q", name)
		}
	}
	return nil
}

func hasType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "number":
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

// decodeArgs converts decoded JSON arguments into the typed struct.
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
