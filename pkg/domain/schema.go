package domain

import (
	"fmt"
	"strings"
)

// Reserved schema keys.
const (
	KeyAtom  = "atom"
	KeyRoute = "route"
)

// Schema is one node of a routing declaration:
//
//	{atom: "<type>[:<id>]", ...type specific fields..., route: <node | list | absent>}
//
// Values are plain YAML scalars, nested Schemas, lists, or Value implementations
// for fields computed per job.
type Schema map[string]any

// Declaration returns the raw "type:id" string.
func (s Schema) Declaration() string {
	if s == nil {
		return ""
	}
	v, ok := s[KeyAtom]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Route returns the child declarations as a list. A single child is wrapped,
// an absent route yields nil.
func (s Schema) Route() []any {
	if s == nil {
		return nil
	}
	return AsList(s[KeyRoute])
}

// String renders a compact description used in job trails.
func (s Schema) String() string {
	decl := strings.TrimSpace(s.Declaration())
	if decl == "" {
		return "{}"
	}
	return "{atom: " + decl + "}"
}

// AsList normalizes a scalar-or-list field into a list.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []Schema:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	default:
		return []any{v}
	}
}

// AsSchema converts decoded mappings into a Schema. It reports false for
// anything that is not a mapping.
func AsSchema(v any) (Schema, bool) {
	switch t := v.(type) {
	case Schema:
		return t, true
	case map[string]any:
		return Schema(t), true
	default:
		return nil, false
	}
}
