package engine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/polisai/atomws/pkg/job"
	"github.com/polisai/atomws/pkg/recycler"
	"github.com/polisai/atomws/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// JobPool is the recycler jobs are drawn from.
type JobPool = recycler.Recycler[*job.Job, job.Allocation, string]

// NewJobPool returns a job recycler titled "Job".
func NewJobPool(limit int) *JobPool {
	return recycler.New[*job.Job, job.Allocation, string](recycler.Options{Title: "Job", Limit: limit}, job.New)
}

// HandlerConfig holds the dependencies of an HTTPHandler.
type HandlerConfig struct {
	Graphs *GraphRegistry
	Jobs   *JobPool
	// Timeout is the default job timeout; job.DefaultTimeout when zero.
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer job.Observer
	// Conn returns the tracked connection serving r, nil to let the job derive
	// one from the response writer.
	Conn func(r *http.Request) job.Conn
}

// HTTPHandler feeds every request through the current routing graph as a
// pooled job.
type HTTPHandler struct {
	graphs   *GraphRegistry
	jobs     *JobPool
	timeout  time.Duration
	logger   *slog.Logger
	observer job.Observer
	conn     func(r *http.Request) job.Conn
}

// NewHTTPHandler constructs the handler. Graphs is required.
func NewHTTPHandler(cfg HandlerConfig) *HTTPHandler {
	if cfg.Graphs == nil {
		panic("engine: graph registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jobs := cfg.Jobs
	if jobs == nil {
		jobs = NewJobPool(0)
	}
	return &HTTPHandler{
		graphs:   cfg.Graphs,
		jobs:     jobs,
		timeout:  cfg.Timeout,
		logger:   logger,
		observer: cfg.Observer,
		conn:     cfg.Conn,
	}
}

// Jobs exposes the job pool for metrics.
func (h *HTTPHandler) Jobs() *JobPool { return h.jobs }

// ServeHTTP allocates a job for the exchange and dispatches it. The job is
// released before ServeHTTP returns.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g := h.graphs.Current()

	var conn job.Conn
	if h.conn != nil {
		conn = h.conn(r)
	}

	if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
		span.SetAttributes(telemetry.HeaderAttributes(r.Header, g.capture, g.redactions)...)
	}

	j := h.jobs.Allocate(job.Allocation{
		Identity: g.Identity(),
		Request:  r,
		Response: w,
		Conn:     conn,
		Timeout:  h.timeout,
		Logger:   h.logger,
		Observer: h.observer,
		Finish:   h.finish,
	})
	g.Dispatch(j)
}

func (h *HTTPHandler) finish(j *job.Job, note string) {
	if err := h.jobs.Release(j, note); err != nil {
		h.logger.Error("job release rejected", "error", err)
	}
}
