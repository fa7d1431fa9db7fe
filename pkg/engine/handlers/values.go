package handlers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
)

// parseStatus coerces decoded YAML or Go values into a positive status code.
func parseStatus(raw any, fallback int) int {
	switch v := raw.(type) {
	case int:
		if v > 0 {
			return v
		}
	case int32:
		if v > 0 {
			return int(v)
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case uint64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

func toBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func toFloat(v any, fallback float64) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return fallback
}

// toStringMap flattens a decoded mapping into string values.
func toStringMap(v any) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]string:
		for k, val := range t {
			out[k] = val
		}
	case map[string]any:
		for k, val := range t {
			out[k] = toString(val)
		}
	case domain.Schema:
		for k, val := range t {
			out[k] = toString(val)
		}
	}
	return out
}

// sortedKeys returns the keys of a rule mapping in a stable order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// firstChild builds the route of node and returns the head of the chain.
func firstChild(node runtime.Node) (runtime.Node, error) {
	chain, err := node.Sequence(node.Schema().Route())
	if err != nil || len(chain) == 0 {
		return nil, err
	}
	return chain[0], nil
}
