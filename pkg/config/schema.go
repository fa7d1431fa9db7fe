package config

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"gopkg.in/yaml.v3"

	"github.com/polisai/atomws/pkg/domain"
)

// keyCompute marks a mapping whose value is a CEL expression evaluated per job.
const keyCompute = "compute"

var (
	nativeMap  = reflect.TypeOf(map[string]any{})
	nativeList = reflect.TypeOf([]any{})
)

// Route is a list of atom declarations decoded from YAML. Mappings become
// domain.Schema, sequences []any, scalars keep their YAML type, and a mapping
// holding only "compute" becomes a domain.Computed.
type Route []any

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Route) UnmarshalYAML(node *yaml.Node) error {
	env, err := computeEnv()
	if err != nil {
		return err
	}
	v, err := decodeNode(env, node)
	if err != nil {
		return err
	}
	*r = domain.AsList(v)
	return nil
}

// DecodeRoute decodes a YAML document holding a route list or a single
// declaration.
func DecodeRoute(data []byte) (Route, error) {
	var r Route
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

func computeEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(cel.Variable("job", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	return env, nil
}

func decodeNode(env *cel.Env, node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return decodeNode(env, node.Content[0])
	case yaml.AliasNode:
		return decodeNode(env, node.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := decodeNode(env, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		if len(node.Content) == 2 && node.Content[0].Value == keyCompute {
			return compileCompute(env, node.Content[1])
		}
		out := make(domain.Schema, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return nil, domain.ConfigError(domain.ErrConfigInvalid, "line %d: mapping keys must be scalars", key.Line)
			}
			v, err := decodeNode(env, node.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[key.Value] = v
		}
		return out, nil
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// compileCompute turns a "compute" expression into a value evaluated for every
// job with the job snapshot bound to "job". Evaluation failures yield nil.
func compileCompute(env *cel.Env, node *yaml.Node) (domain.Computed, error) {
	if node.Kind != yaml.ScalarNode || node.Value == "" {
		return nil, domain.ConfigError(domain.ErrConfigInvalid, "line %d: compute expects an expression", node.Line)
	}
	ast, issues := env.Compile(node.Value)
	if issues != nil && issues.Err() != nil {
		return nil, domain.ConfigError(domain.ErrConfigInvalid, "line %d: compute %q: %v", node.Line, node.Value, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, domain.ConfigError(domain.ErrConfigInvalid, "line %d: compute %q: %v", node.Line, node.Value, err)
	}
	return func(j domain.JobView) any {
		out, _, err := prg.Eval(map[string]any{"job": j.Snapshot()})
		if err != nil {
			return nil
		}
		return celNative(out)
	}, nil
}

func celNative(v ref.Val) any {
	switch v.Type() {
	case types.MapType:
		if m, err := v.ConvertToNative(nativeMap); err == nil {
			return m
		}
	case types.ListType:
		if l, err := v.ConvertToNative(nativeList); err == nil {
			return l
		}
	}
	return v.Value()
}
