package doltools

import (
	"encoding/json"
	"fmt"
	"strings"
)

var operators = map[string]bool{
	"eq":     true,
	"neq":    true,
	"gt":     true,
	"lt":     true,
	"in":     true,
	"not_in": true,
	"like":   true,
}

// ValidateFilter checks that s is a filter_object the DOL API accepts: a
// single {"field","operator","value"} condition or an "and"/"or" group of
// nested filters.
func ValidateFilter(s string) error {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return validateNode(v, "$")
}

func validateNode(v any, path string) error {
	obj, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: expected an object", path)
	}

	for _, group := range []string{"and", "or"} {
		raw, ok := obj[group]
		if !ok {
			continue
		}
		if len(obj) != 1 {
			return fmt.Errorf("%s: %q must be the only key", path, group)
		}
		items, ok := raw.([]any)
		if !ok || len(items) == 0 {
			return fmt.Errorf("%s.%s: expected a non-empty array", path, group)
		}
		for i, item := range items {
			if err := validateNode(item, fmt.Sprintf("%s.%s[%d]", path, group, i)); err != nil {
				return err
			}
		}
		return nil
	}

	field, _ := obj["field"].(string)
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("%s: missing field", path)
	}
	op, _ := obj["operator"].(string)
	if !operators[op] {
		return fmt.Errorf("%s: unsupported operator %q", path, op)
	}
	value, ok := obj["value"]
	if !ok {
		return fmt.Errorf("%s: missing value", path)
	}
	if op == "in" || op == "not_in" {
		if _, isList := value.([]any); !isList {
			return fmt.Errorf("%s: operator %s needs an array value", path, op)
		}
	}
	return nil
}
