package store

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringEnum is a constraint for enum types that have a String() method.
type StringEnum interface {
	String() string
}

// MarshalEnumJSON marshals an enum value as its string form.
func MarshalEnumJSON[T StringEnum](v T) ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalEnumJSON decodes a JSON string and parses it with parseFunc.
func UnmarshalEnumJSON[T StringEnum](data []byte, parseFunc func(string) (T, error)) (T, error) {
	var zero T
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return zero, err
	}
	return parseFunc(s)
}

// UnmarshalEnumYAML decodes a YAML scalar and parses it with parseFunc.
func UnmarshalEnumYAML[T StringEnum](node *yaml.Node, parseFunc func(string) (T, error)) (T, error) {
	var zero T
	var s string
	if err := node.Decode(&s); err != nil {
		return zero, err
	}
	return parseFunc(s)
}

// ParseEnumError creates a standardized error for invalid enum values.
func ParseEnumError(enumName, value string) error {
	return fmt.Errorf("unknown %s: %q", enumName, value)
}
