// Package measure implements periodic sliding-window rate counters.
//
// A Registry owns parallel slot arrays (accumulator, last rate, running
// maximum) and a ticker that sweeps every active slot once per period. Measures
// are handles onto a slot and are recycled through a recycler.Recycler.
package measure

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polisai/atomws/pkg/recycler"
)

// DefaultPeriod is the sweep period used when Options.Period is unset.
const DefaultPeriod = 5 * time.Second

// Options configure a Registry.
type Options struct {
	Period time.Duration
	// Limit bounds idle Measure handles kept for reuse.
	Limit int
}

// Registry holds the slot arrays shared by all measures.
type Registry struct {
	mu      sync.Mutex
	period  time.Duration
	acc     []float64
	rate    []float64
	max     []float64
	active  []bool
	freeIdx []int

	pool *recycler.Recycler[*Measure, struct{}, struct{}]

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry constructs an idle Registry; call Start to run the ticker.
func NewRegistry(opts Options) *Registry {
	period := opts.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	g := &Registry{
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	g.pool = recycler.New[*Measure, struct{}, struct{}](
		recycler.Options{Title: "Measure", Limit: opts.Limit},
		func() *Measure { return &Measure{reg: g, slot: -1} },
	)
	return g
}

// Period returns the sweep period.
func (g *Registry) Period() time.Duration { return g.period }

// Pool exposes the handle pool for the objects section of the metrics document.
func (g *Registry) Pool() recycler.Source { return g.pool }

// Start runs the sweep ticker until ctx is done or Close is called.
func (g *Registry) Start(ctx context.Context) {
	if !g.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(g.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			case <-ticker.C:
				g.Tick()
			}
		}
	}()
}

// Close stops the ticker started by Start and waits for it to exit.
// It is safe to call Close on a registry that was never started.
func (g *Registry) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
	if g.started.Load() {
		<-g.done
	}
}

// Tick performs one sweep: every active slot turns its accumulator into a
// per-second rate, resets the accumulator and raises its maximum.
func (g *Registry) Tick() {
	secs := g.period.Seconds()
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, on := range g.active {
		if !on {
			continue
		}
		r := g.acc[i] / secs
		g.acc[i] = 0
		g.rate[i] = r
		if r > g.max[i] {
			g.max[i] = r
		}
	}
}

// Allocate claims a zeroed measure.
func (g *Registry) Allocate() *Measure {
	return g.pool.Allocate(struct{}{})
}

// Release returns m's slot to the free stack. Releasing twice is a no-op.
func (g *Registry) Release(m *Measure) error {
	return g.pool.Release(m, struct{}{})
}

func (g *Registry) claim() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var idx int
	if n := len(g.freeIdx); n > 0 {
		idx = g.freeIdx[n-1]
		g.freeIdx = g.freeIdx[:n-1]
	} else {
		idx = len(g.active)
		g.acc = append(g.acc, 0)
		g.rate = append(g.rate, 0)
		g.max = append(g.max, 0)
		g.active = append(g.active, false)
	}
	g.acc[idx], g.rate[idx], g.max[idx] = 0, 0, 0
	g.active[idx] = true
	return idx
}

func (g *Registry) free(idx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx < 0 || idx >= len(g.active) || !g.active[idx] {
		return
	}
	g.active[idx] = false
	g.acc[idx], g.rate[idx], g.max[idx] = 0, 0, 0
	g.freeIdx = append(g.freeIdx, idx)
}

// Measure is a handle onto one rate slot.
type Measure struct {
	reg  *Registry
	slot int
}

// Allocate is the pool hook claiming a slot.
func (m *Measure) Allocate(struct{}) {
	m.slot = m.reg.claim()
}

// Release is the pool hook returning the slot.
func (m *Measure) Release(struct{}) {
	m.reg.free(m.slot)
	m.slot = -1
}

// Add accumulates delta into the current period.
func (m *Measure) Add(delta float64) {
	g := m.reg
	g.mu.Lock()
	if m.slot >= 0 && m.slot < len(g.acc) {
		g.acc[m.slot] += delta
	}
	g.mu.Unlock()
}

// Value returns the rate computed by the last sweep, rounded to 3 decimals.
func (m *Measure) Value() float64 {
	g := m.reg
	g.mu.Lock()
	defer g.mu.Unlock()
	if m.slot < 0 || m.slot >= len(g.rate) {
		return 0
	}
	return Round(g.rate[m.slot], 3)
}

// Maximum returns the highest rate seen so far, rounded to 3 decimals.
func (m *Measure) Maximum() float64 {
	g := m.reg
	g.mu.Lock()
	defer g.mu.Unlock()
	if m.slot < 0 || m.slot >= len(g.max) {
		return 0
	}
	return Round(g.max[m.slot], 3)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
