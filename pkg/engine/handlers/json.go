package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// JSONHandler serializes the "using" object (computed per job when it is a
// function) and stops.
type JSONHandler struct{}

// NewJSONHandler returns a json atom.
func NewJSONHandler() *JSONHandler { return &JSONHandler{} }

// Execute writes the document with a four space indent. Values that are not
// objects are rendered as {}.
func (h *JSONHandler) Execute(_ context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	value := node.Field("using", j, nil)
	if !isObject(value) {
		value = map[string]any{}
	}
	body, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return runtime.Advance{}, fmt.Errorf("json: encode: %w", err)
	}
	encoding := toString(node.Field("encoding", j, "utf-8"))

	resp := j.Response()
	resp.Header().Set("Content-Type", "application/json; charset="+encoding)
	resp.Header().Set("Content-Length", strconv.Itoa(len(body)))
	resp.WriteHeader(http.StatusOK)
	if _, err := resp.Write(body); err != nil {
		return runtime.Stop().WithNote(fmt.Sprintf("--%v--", err)), nil
	}
	return runtime.Stop(), nil
}

// isObject reports whether v encodes as a JSON object: maps and structs.
func isObject(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
}
