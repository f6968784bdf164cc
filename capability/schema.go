// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"math"
	"reflect"
)

// Schema is the JSON-Schema-like argument declaration published in
// tools/list. Only the subset the protocol uses is modeled: an object
// with typed properties, required fields, and enums.
type Schema struct {
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties,omitempty"`
	Required   []string             `json:"required,omitempty"`
}

// Property declares one argument field.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Recognized primitive property types.
var propertyTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// check verifies the schema is well-formed: recognized property
// types, and every required field declared in properties.
func (s Schema) check() error {
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("schema type must be \"object\", got %q", s.Type)
	}
	for name, prop := range s.Properties {
		if prop == nil {
			return fmt.Errorf("property %s: missing declaration", name)
		}
		if !propertyTypes[prop.Type] {
			return fmt.Errorf("property %s: unknown type %q", name, prop.Type)
		}
	}
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; !ok {
			return fmt.Errorf("required field %s not declared in properties", name)
		}
	}
	return nil
}

// validate checks args against the schema, collecting every
// violation instead of stopping at the first.
func (s Schema) validate(args map[string]any) ValidationErrors {
	var violations ValidationErrors

	for _, name := range s.Required {
		if _, present := args[name]; !present {
			violations = append(violations, ValidationError{
				Field:  name,
				Reason: fmt.Sprintf("missing required field: %s", name),
			})
		}
	}

	for name, value := range args {
		prop, declared := s.Properties[name]
		if !declared {
			// Undeclared fields pass through: forward-compatible
			// clients may send extras the handler ignores.
			continue
		}
		if !typeMatches(prop.Type, value) {
			violations = append(violations, ValidationError{
				Field:  name,
				Reason: fmt.Sprintf("expected %s, got %s", prop.Type, jsonTypeName(value)),
			})
			continue
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, value) {
			violations = append(violations, ValidationError{
				Field:  name,
				Reason: fmt.Sprintf("value %v not in enum %v", value, prop.Enum),
			})
		}
	}

	return violations
}

// typeMatches checks a decoded JSON value against a declared
// primitive type. JSON numbers decode to float64; "integer" accepts
// only integral values.
func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		number, ok := value.(float64)
		return ok && number == math.Trunc(number)
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	return false
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if reflect.DeepEqual(candidate, value) {
			return true
		}
	}
	return false
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", value)
}
