package handlers

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

var templateRule = strings.Repeat("-", 79) + "\n"

// Template renders the minimal diagnostic page used by error responses: the
// title, then each non-empty line under a dashed rule. Text is HTML escaped.
func Template(title string, lines ...string) string {
	if title == "" {
		title = "-"
	}
	title = html.EscapeString(title)
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><pre>" + title + "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString(templateRule)
		b.WriteString(html.EscapeString(line))
	}
	b.WriteString("</pre></body></html>")
	return b.String()
}

// ErrorHandler answers with a status code and a diagnostic page, then stops.
type ErrorHandler struct {
	now func() time.Time
}

// NewErrorHandler returns an error atom.
func NewErrorHandler() *ErrorHandler { return &ErrorHandler{now: time.Now} }

// Execute writes the page. Fields: code (404), reason (status text), encoding (utf-8).
func (h *ErrorHandler) Execute(_ context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	code := parseStatus(node.Field("code", j, http.StatusNotFound), http.StatusNotFound)
	reason := http.StatusText(code)
	if reason == "" {
		reason = "(UNKNOWN)"
	}
	reason = toString(node.Field("reason", j, reason))
	encoding := toString(node.Field("encoding", j, "utf-8"))

	footer := ""
	if id := node.Identity(); !id.Hide {
		footer = fmt.Sprintf("%s (%s), %s", id.Title, id.Powered, h.now().Format(time.RFC1123))
	}
	content := Template(fmt.Sprintf("%d: %s", code, reason), footer)

	resp := j.Response()
	resp.Header().Set("Content-Type", "text/html; charset="+encoding)
	resp.Header().Set("Content-Length", strconv.Itoa(len(content)))
	resp.WriteHeader(code)
	if _, err := resp.Write([]byte(content)); err != nil {
		return runtime.Stop().WithNote(fmt.Sprintf("--%v--", err)), nil
	}
	return runtime.Stop(), nil
}
