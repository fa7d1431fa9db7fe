package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/polisai/atomws/internal/governance"
	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

const defaultLimitKey = "client.ip"

// LimitHandler admits jobs through a token bucket per key. Jobs over budget
// route into the child, or into an error 429 when there is none.
type LimitHandler struct {
	limiter *governance.KeyedLimiter
	key     string
	child   runtime.Node
}

// NewLimitHandler returns an unprepared limit atom.
func NewLimitHandler() *LimitHandler { return &LimitHandler{} }

// Prepare sizes the buckets and builds the over-budget route. Fields: rate
// (tokens per second), burst, key (job field, client.ip by default), route.
func (h *LimitHandler) Prepare(_ context.Context, node runtime.Node) error {
	rate := toFloat(node.Field("rate", nil, 0), 0)
	if rate < 0 {
		return domain.ConfigError(domain.ErrInvalidDeclaration, "limit %s: negative rate", node.ID())
	}
	h.limiter = governance.NewKeyedLimiter(governance.LimiterConfig{
		RequestsPerSecond: rate,
		BurstSize:         parseStatus(node.Field("burst", nil, 0), 0),
	})
	h.key = toString(node.Field("key", nil, defaultLimitKey))

	child, err := firstChild(node)
	if err != nil {
		return err
	}
	if child == nil {
		child, err = node.Atomize(domain.Schema{
			domain.KeyAtom: "error",
			"code":         http.StatusTooManyRequests,
		})
	}
	h.child = child
	return err
}

// Execute takes one token for the job's key.
func (h *LimitHandler) Execute(_ context.Context, _ runtime.Node, j *job.Job) (runtime.Advance, error) {
	key := j.Field(h.key)
	if h.limiter.Allow(key) {
		return runtime.Next(), nil
	}
	return runtime.Into(h.child).WithNote(fmt.Sprintf("--rate limited: %s--", key)), nil
}
