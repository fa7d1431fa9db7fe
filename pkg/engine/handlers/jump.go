package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// JumpHandler routes the job to a named atom anywhere in the graph.
type JumpHandler struct {
	fallback runtime.Node
}

// NewJumpHandler returns an unprepared jump atom.
func NewJumpHandler() *JumpHandler { return &JumpHandler{} }

// Prepare precompiles the 500 error used when the target id is unknown. Its
// reason names the id resolved for the failing job.
func (h *JumpHandler) Prepare(_ context.Context, node runtime.Node) error {
	to := node.Schema()["to"]
	fallback, err := node.Atomize(domain.Schema{
		domain.KeyAtom: "error",
		"code":         http.StatusInternalServerError,
		"reason": domain.Computed(func(j domain.JobView) any {
			return fmt.Sprintf("Invalid jump id '%s'!", toString(domain.Resolve(to, j)))
		}),
	})
	h.fallback = fallback
	return err
}

// Execute resolves "to" for this job and routes there.
func (h *JumpHandler) Execute(_ context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	if target, ok := node.Lookup(toString(node.Field("to", j, ""))); ok {
		return runtime.Into(target), nil
	}
	return runtime.Into(h.fallback), nil
}
