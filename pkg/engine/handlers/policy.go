package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
	"github.com/polisai/atomws/pkg/policy"
	"github.com/polisai/atomws/pkg/telemetry"
)

const defaultPolicyEntrypoint = "atomws/allow"

// PolicyHandler evaluates rego modules against a snapshot of the job. Denied
// jobs route into the child, or into an error 403 when there is none.
type PolicyHandler struct {
	engine  policy.Evaluator
	posture string
	child   runtime.Node
	denied  runtime.Node

	mu     sync.Mutex
	status map[int]runtime.Node
}

// NewPolicyHandler returns an unprepared policy atom.
func NewPolicyHandler() *PolicyHandler { return &PolicyHandler{} }

// Prepare loads the modules, prepares the entrypoint query and builds the
// deny route.
func (h *PolicyHandler) Prepare(ctx context.Context, node runtime.Node) error {
	schema := node.Schema()
	modules, err := policyModules(schema)
	if err != nil {
		return err
	}
	h.posture = resolvePosture(schema["posture"], postureFailClosed, node.Logger())

	engine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: toString(node.Field("entrypoint", nil, defaultPolicyEntrypoint)),
		Modules:    modules,
		Logger:     node.Logger(),
	})
	if err != nil {
		return fmt.Errorf("policy %s: %w", node.ID(), err)
	}
	h.engine = engine

	if h.child, err = firstChild(node); err != nil {
		return err
	}
	if h.child == nil {
		h.denied, err = node.Atomize(domain.Schema{
			domain.KeyAtom: "error",
			"code":         http.StatusForbidden,
		})
	}
	return err
}

func policyModules(schema domain.Schema) (map[string]string, error) {
	modules := make(map[string]string)
	for name, src := range toStringMap(schema["modules"]) {
		modules[name] = src
	}
	for _, raw := range domain.AsList(schema["files"]) {
		path := toString(raw)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError(domain.ErrInvalidDeclaration, "policy module %s: %v", path, err)
		}
		modules[filepath.Base(path)] = string(data)
	}
	if len(modules) == 0 {
		return nil, domain.ConfigError(domain.ErrInvalidDeclaration, "policy atom requires modules or files")
	}
	return modules, nil
}

// Execute evaluates the decision for j.
func (h *PolicyHandler) Execute(ctx context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	decision, err := h.engine.Evaluate(ctx, policy.Input{Document: policyInput(j)})
	if err != nil {
		node.Logger().Warn("policy evaluation failed", "job_id", j.ID(), "posture", h.posture, "error", err)
		note := fmt.Sprintf("--policy error (%s): %v--", h.posture, err)
		if h.posture == postureFailOpen {
			return runtime.Next().WithNote(note), nil
		}
		return h.deny(node, j, note, 0), nil
	}
	telemetry.RecordPolicyDecision(trace.SpanFromContext(ctx), decision)

	if decision.Allowed() {
		return runtime.Next(), nil
	}
	note := "--policy denied--"
	if decision.Reason != "" {
		note = fmt.Sprintf("--policy denied: %s--", decision.Reason)
	}
	return h.deny(node, j, note, decision.Status), nil
}

func (h *PolicyHandler) deny(node runtime.Node, j *job.Job, note string, status int) runtime.Advance {
	if h.child != nil {
		return runtime.Into(h.child).WithNote(note)
	}
	if status > 0 && status != http.StatusForbidden {
		page, err := h.statusPage(node, status)
		if err == nil {
			return runtime.Into(page).WithNote(note)
		}
		j.Logger().Warn("policy status ignored", "status", status, "error", err)
	}
	return runtime.Into(h.denied).WithNote(note)
}

// statusPage builds, once per status, the error page for a status chosen by
// the policy itself.
func (h *PolicyHandler) statusPage(node runtime.Node, status int) (runtime.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if page, ok := h.status[status]; ok {
		return page, nil
	}
	page, err := node.Atomize(domain.Schema{domain.KeyAtom: "error", "code": status})
	if err != nil {
		return nil, err
	}
	if h.status == nil {
		h.status = make(map[int]runtime.Node)
	}
	h.status[status] = page
	return page, nil
}

// policyInput is the document exposed to rego as input.
func policyInput(j *job.Job) map[string]any {
	headers := make(map[string]any, len(j.Headers()))
	for name := range j.Headers() {
		headers[http.CanonicalHeaderKey(name)] = j.Headers().Get(name)
	}
	params := make(map[string]any)
	for k, v := range j.Parameters() {
		params[k] = v
	}
	client := j.Client()
	return map[string]any{
		"method":     j.Method(),
		"path":       j.Path(),
		"host":       j.Host(),
		"port":       j.Port(),
		"protocol":   j.Protocol(),
		"query":      j.Query(),
		"headers":    headers,
		"parameters": params,
		"client":     map[string]any{"ip": client.IP, "port": client.Port},
	}
}
