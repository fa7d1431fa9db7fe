package handlers

import (
	"context"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// NoteDropped is the trail marker of a forcefully dropped connection.
const NoteDropped = "--connection dropped forcefully--"

// DropHandler destroys the job's connection without answering.
type DropHandler struct{}

// NewDropHandler returns a drop atom.
func NewDropHandler() *DropHandler { return &DropHandler{} }

// Execute closes the transport and stops.
func (h *DropHandler) Execute(_ context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	if conn := j.Conn(); conn != nil {
		if err := conn.Close(); err != nil {
			node.Logger().Warn("drop: closing connection failed", "job_id", j.ID(), "error", err)
		}
	}
	return runtime.Stop().WithNote(NoteDropped), nil
}
