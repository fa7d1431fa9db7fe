package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
	"github.com/polisai/atomws/pkg/telemetry"
)

// NoteRoutingClosed marks jobs whose routing was closed before they were released.
const NoteRoutingClosed = "--routing closed--"

// Dispatch routes j from the graph entrance. It returns once j is released.
func (g *Graph) Dispatch(j *job.Job) {
	g.Route(g.entrance, j)
}

// Route drives j through the graph starting at start. Hops run one after the
// other in this goroutine, so graph depth never grows the stack. The job is
// released exactly once before Route returns; the caller must not touch it
// afterwards.
func (g *Graph) Route(start *Atom, j *job.Job) {
	var rethrow any
	defer func() {
		if rethrow != nil {
			panic(rethrow)
		}
	}()

	cur := start
	for {
		if j.Released() || j.Interrupt() {
			return
		}
		if !j.Routable() {
			j.Finish(NoteRoutingClosed)
			return
		}
		if cur == nil {
			cur = g.failure
		}

		adv, panicked, err := g.hop(cur, j)
		if err != nil {
			if panicked != nil && g.identity.Debug {
				rethrow = panicked
			}
			if j.Released() {
				return
			}
			j.Trail(cur.String())
			if j.Interrupt() {
				return
			}
			cur.Logger().Error("routing failed", "job_id", j.ID(), "error", err)
			note := fmt.Sprintf("--%v--", err)
			if cur == g.internal || j.Response().Written() {
				j.Finish(note)
				return
			}
			j.Trail(note)
			cur = g.internal
			continue
		}

		if j.Released() || j.Interrupt() {
			return
		}

		switch adv.Kind {
		case runtime.AdvanceStop:
			j.Trail(cur.String())
			j.Finish(adv.Note)
			return
		case runtime.AdvanceInto:
			target, ok := adv.Target.(*Atom)
			if !ok || target == nil || target.graph != g {
				j.Trail(cur.String())
				j.Trail(fmt.Sprintf("--foreign atom %v--", adv.Target))
				cur = g.internal
				continue
			}
			j.Trail(cur.String())
			j.Trail(adv.Note)
			cur = target
		default:
			j.Trail(adv.Note)
			cur = cur.next()
		}
	}
}

// hop waits for cur to be prepared and runs its executor, recovering panics.
// An atom without an executor passes the job on.
func (g *Graph) hop(cur *Atom, j *job.Job) (adv runtime.Advance, panicked any, err error) {
	ctx := j.Context()
	if err := cur.await(ctx); err != nil {
		return runtime.Advance{}, nil, fmt.Errorf("%w: %w", domain.ErrRoutingFailed, err)
	}
	if cur.executor == nil {
		return runtime.Next(), nil, nil
	}

	ctx, span := telemetry.StartHop(ctx, cur.kind, cur.id, j.ID())
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			panicked = r
			err = &domain.DomainError{
				Err:     fmt.Errorf("%w: panic: %v", domain.ErrRoutingFailed, r),
				Code:    domain.CodeRouting,
				Message: fmt.Sprintf("atom %q panicked", cur.describe()),
				Details: map[string]any{"stack": string(debug.Stack())},
			}
		}
		advance := string(adv.Kind)
		if err != nil {
			advance = "error"
		}
		telemetry.EndHop(span, advance, adv.Note, err)
		telemetry.RecordHopMetrics(context.WithoutCancel(ctx), telemetry.HopMetrics{
			AtomType: cur.kind,
			AtomID:   cur.id,
			Advance:  advance,
			Duration: time.Since(start),
			Failed:   err != nil,
		})
	}()

	adv, err = cur.executor.Execute(ctx, cur, j)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrRoutingFailed, err)
	}
	return adv, nil, err
}
