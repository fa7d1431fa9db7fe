package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// ReplyHandler answers with caller supplied content and headers, then stops.
type ReplyHandler struct{}

// NewReplyHandler returns a reply atom.
func NewReplyHandler() *ReplyHandler { return &ReplyHandler{} }

// Execute writes the reply. Fields: content, mime (text/html), encoding
// (utf-8), headers, status (200). Content type and length always win over
// user headers.
func (h *ReplyHandler) Execute(_ context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	content := toString(node.Field("content", j, ""))
	mime := toString(node.Field("mime", j, "text/html"))
	encoding := toString(node.Field("encoding", j, "utf-8"))
	status := parseStatus(node.Field("status", j, http.StatusOK), http.StatusOK)

	resp := j.Response()
	header := resp.Header()
	for name, value := range toStringMap(node.Field("headers", j, nil)) {
		header.Set(strings.ToLower(name), value)
	}
	header.Set("Content-Type", mime+"; charset="+encoding)
	header.Set("Content-Length", strconv.Itoa(len(content)))
	resp.WriteHeader(status)
	if _, err := resp.Write([]byte(content)); err != nil {
		return runtime.Stop().WithNote(fmt.Sprintf("--%v--", err)), nil
	}
	return runtime.Stop(), nil
}
