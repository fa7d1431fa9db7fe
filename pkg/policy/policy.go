package policy

import "context"

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow lets the job continue along its route.
	ActionAllow Action = "allow"
	// ActionBlock stops the job with an error response.
	ActionBlock Action = "block"
)

// Decision captures the result of an evaluation.
type Decision struct {
	Action Action
	Reason string
	// Status is the HTTP status suggested by the policy for blocked jobs, 0 when unset.
	Status   int
	Metadata map[string]string
}

// Allowed reports whether the decision lets the job through.
func (d Decision) Allowed() bool { return d.Action != ActionBlock }

// Input provides context for policy evaluation.
type Input struct {
	// Entrypoint overrides the engine's default decision path.
	Entrypoint string
	// Document is exposed to Rego as input.
	Document     map[string]any
	DisableCache bool
}

// Evaluator evaluates a decision for a given input.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}
