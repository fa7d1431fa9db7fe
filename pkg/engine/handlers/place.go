package handlers

import (
	"context"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// PlaceHandler groups its route under one structural scope. Jobs that fall off
// the end of the group continue with the group's own successor.
type PlaceHandler struct {
	child runtime.Node
}

// NewPlaceHandler returns an unprepared place atom.
func NewPlaceHandler() *PlaceHandler { return &PlaceHandler{} }

// Prepare builds the grouped route.
func (h *PlaceHandler) Prepare(_ context.Context, node runtime.Node) error {
	child, err := firstChild(node)
	h.child = child
	return err
}

// Execute enters the group, or passes through when it is empty.
func (h *PlaceHandler) Execute(context.Context, runtime.Node, *job.Job) (runtime.Advance, error) {
	return runtime.Into(h.child), nil
}
