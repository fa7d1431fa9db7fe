package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// PrepareFunc is a user supplied initialiser for a custom atom.
type PrepareFunc func(ctx context.Context, node runtime.Node) error

// CustomHandler delegates to user code placed in the schema:
//
//	execute: runtime.Executor | runtime.ExecutorFunc | func(ctx, node, job) (Advance, error)
//	handler: http.Handler, served with the job's request and response, then stop
//	prepare: runtime.Preparer | PrepareFunc | func(ctx, node) error
//
// Without any of them the atom passes jobs on.
type CustomHandler struct {
	exec runtime.Executor
}

// NewCustomHandler returns an unprepared custom atom.
func NewCustomHandler() *CustomHandler { return &CustomHandler{} }

// Prepare resolves the delegates and runs the user initialiser once.
func (h *CustomHandler) Prepare(ctx context.Context, node runtime.Node) error {
	schema := node.Schema()

	switch e := schema["execute"].(type) {
	case nil:
	case runtime.Executor:
		h.exec = e
	case func(context.Context, runtime.Node, *job.Job) (runtime.Advance, error):
		h.exec = runtime.ExecutorFunc(e)
	default:
		return fmt.Errorf("custom execute: unsupported type %T", e)
	}

	if h.exec == nil {
		if handler, ok := schema["handler"].(http.Handler); ok {
			h.exec = serveHandler(handler)
		}
	}

	switch p := schema["prepare"].(type) {
	case nil:
		return nil
	case runtime.Preparer:
		return p.Prepare(ctx, node)
	case PrepareFunc:
		return p(ctx, node)
	case func(context.Context, runtime.Node) error:
		return p(ctx, node)
	default:
		return fmt.Errorf("custom prepare: unsupported type %T", p)
	}
}

// Execute runs the delegate or passes through.
func (h *CustomHandler) Execute(ctx context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	if h.exec == nil {
		return runtime.Next(), nil
	}
	return h.exec.Execute(ctx, node, j)
}

func serveHandler(handler http.Handler) runtime.ExecutorFunc {
	return func(ctx context.Context, _ runtime.Node, j *job.Job) (runtime.Advance, error) {
		handler.ServeHTTP(j.Response(), j.Request().WithContext(ctx))
		return runtime.Stop(), nil
	}
}
