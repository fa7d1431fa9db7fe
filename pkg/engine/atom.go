package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

var reDeclaration = regexp.MustCompile(`^\s*([\w.-]*)\s*(:\s*([\w.-]*)\s*)?$`)

// Identify splits a "type[:id]" declaration into its lowercased parts.
func Identify(decl string) (string, string, error) {
	parts := reDeclaration.FindStringSubmatch(strings.ToLower(decl))
	if parts == nil {
		return "", "", domain.ConfigError(domain.ErrInvalidDeclaration, "invalid atom declaration: %q", decl)
	}
	return parts[1], parts[3], nil
}

// Atom is one node of a routing graph. Atoms are immutable once their prepare
// step has completed; only the graph's construction goroutines write to them.
type Atom struct {
	graph     *Graph
	schema    domain.Schema
	kind      string
	id        string
	ancestor  *Atom
	successor *Atom

	executor runtime.Executor
	ready    chan struct{}
	initErr  error
}

var _ runtime.Node = (*Atom)(nil)

func newAtom(g *Graph, schema domain.Schema, ancestor *Atom) (*Atom, error) {
	kind, id, err := Identify(schema.Declaration())
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, domain.ConfigError(domain.ErrInvalidDeclaration, "atom declaration without type: %s", schema)
	}
	factory, ok := g.catalog.Resolve(kind)
	if !ok {
		return nil, domain.ConfigError(domain.ErrUnknownAtomType, "unknown atom type: %q", kind)
	}

	a := &Atom{
		graph:    g,
		schema:   schema,
		kind:     kind,
		id:       id,
		ancestor: ancestor,
		ready:    make(chan struct{}),
	}
	if err := g.save(a); err != nil {
		return nil, err
	}

	behavior := factory()
	if exec, ok := behavior.(runtime.Executor); ok {
		a.executor = exec
	}
	if prep, ok := behavior.(runtime.Preparer); ok {
		g.prepare(a, prep)
	} else {
		close(a.ready)
	}
	return a, nil
}

// await blocks until the atom is prepared or ctx ends.
func (a *Atom) await(ctx context.Context) error {
	select {
	case <-a.ready:
		return a.initErr
	default:
	}
	select {
	case <-a.ready:
		return a.initErr
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Type returns the atom type name.
func (a *Atom) Type() string { return a.kind }

// ID returns the atom id, "" when anonymous.
func (a *Atom) ID() string { return a.id }

// Schema returns the declaration the atom was built from.
func (a *Atom) Schema() domain.Schema { return a.schema }

// Ancestor returns the enclosing atom, nil at the root.
func (a *Atom) Ancestor() *Atom { return a.ancestor }

// Successor returns the next sibling, nil at the end of a sequence.
func (a *Atom) Successor() *Atom { return a.successor }

// Identity returns the serving identity of the graph.
func (a *Atom) Identity() job.Identity { return a.graph.identity }

// Logger returns the graph logger annotated with the atom identity.
func (a *Atom) Logger() *slog.Logger {
	return a.graph.logger.With("atom_type", a.kind, "atom_id", a.id)
}

// String renders the atom for trails.
func (a *Atom) String() string { return a.schema.String() }

// Field reads a schema field, resolving computed values against j.
func (a *Atom) Field(name string, j *job.Job, fallback any) any {
	v, ok := a.schema[name]
	if !ok || v == nil {
		return fallback
	}
	if val, isValue := v.(domain.Value); isValue {
		if j == nil {
			return fallback
		}
		v = val.Resolve(j)
	}
	if v == nil {
		return fallback
	}
	return v
}

// Atomize builds a child of a. An existing atom is returned unchanged; values
// that are not declarations yield nil.
func (a *Atom) Atomize(child any) (runtime.Node, error) {
	atom, err := a.graph.atomize(child, a)
	if err != nil || atom == nil {
		return nil, err
	}
	return atom, nil
}

// Sequence builds the children of a, chaining each to the next.
func (a *Atom) Sequence(children any) ([]runtime.Node, error) {
	chain, err := a.graph.sequence(children, a)
	if err != nil {
		return nil, err
	}
	nodes := make([]runtime.Node, len(chain))
	for i, atom := range chain {
		nodes[i] = atom
	}
	return nodes, nil
}

// Lookup resolves a named atom from the graph registry.
func (a *Atom) Lookup(name string) (runtime.Node, bool) {
	atom, ok := a.graph.Load(name)
	if !ok {
		return nil, false
	}
	return atom, true
}

// next walks the successor chain from a upwards through its ancestors.
func (a *Atom) next() *Atom {
	for level := a; level != nil; level = level.ancestor {
		if level.successor != nil {
			return level.successor
		}
	}
	return nil
}

func (a *Atom) describe() string {
	if a.id == "" {
		return a.kind
	}
	return fmt.Sprintf("%s:%s", a.kind, a.id)
}
