// Package runtime defines the contracts shared by the routing engine and the
// atom handlers, keeping handler logic decoupled from graph mechanics.
package runtime

import (
	"context"
	"log/slog"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/job"
)

// AdvanceKind classifies what the engine does after an atom ran.
type AdvanceKind string

const (
	// AdvanceStop releases the job; the atom has produced (or abandoned) the response.
	AdvanceStop AdvanceKind = "stop"
	// AdvanceNext follows the successor chain of the atom and its ancestors.
	AdvanceNext AdvanceKind = "next"
	// AdvanceInto routes the job into Target.
	AdvanceInto AdvanceKind = "into"
)

// Advance is the routing decision returned by an Executor, with an optional
// note appended to the job trail.
type Advance struct {
	Kind   AdvanceKind
	Target Node
	Note   string
}

// Stop releases the job.
func Stop() Advance { return Advance{Kind: AdvanceStop} }

// Next continues with the successor chain.
func Next() Advance { return Advance{Kind: AdvanceNext} }

// Into routes the job into target. A nil target behaves like Next.
func Into(target Node) Advance {
	if target == nil {
		return Next()
	}
	return Advance{Kind: AdvanceInto, Target: target}
}

// WithNote attaches a trail note.
func (a Advance) WithNote(note string) Advance {
	a.Note = note
	return a
}

// Node is the view of a graph atom handed to executors.
type Node interface {
	// Type is the atom type name ("match", "error", ...).
	Type() string
	// ID is the atom identifier, "" when anonymous.
	ID() string
	// Schema is the declaration the atom was built from.
	Schema() domain.Schema
	// Field reads a schema field, resolving computed values against j. A nil
	// or missing value yields fallback.
	Field(name string, j *job.Job, fallback any) any
	// Atomize builds a child atom from a declaration. Values that are not
	// declarations yield a nil Node.
	Atomize(child any) (Node, error)
	// Sequence atomizes a list of declarations, chaining each to the next as
	// its successor.
	Sequence(children any) ([]Node, error)
	// Lookup resolves "type:id" or "id" against the graph's registry.
	Lookup(name string) (Node, bool)
	// Identity is the serving identity of the graph.
	Identity() job.Identity
	Logger() *slog.Logger
	String() string
}

// Executor runs an atom against a job. Executors must not retain the job past
// the call.
type Executor interface {
	Execute(ctx context.Context, node Node, j *job.Job) (Advance, error)
}

// Preparer performs one-time asynchronous initialisation of an atom. Jobs
// routed to the atom wait until Prepare returns.
type Preparer interface {
	Prepare(ctx context.Context, node Node) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, node Node, j *job.Job) (Advance, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, node Node, j *job.Job) (Advance, error) {
	return f(ctx, node, j)
}

// Factory creates the per-atom behaviour for one atom type. The returned value
// implements Executor, Preparer, both, or neither (a pass-through atom).
type Factory func() any
