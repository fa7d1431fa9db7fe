package engine

import (
	"log/slog"
	"sync"
)

// GraphRegistry holds the active routing graph and supports zero-downtime
// swaps: jobs already dispatched keep the graph they started on while new jobs
// pick up the replacement.
type GraphRegistry struct {
	mu         sync.RWMutex
	current    *Graph
	generation int64
	logger     *slog.Logger
}

// NewGraphRegistry creates a registry serving g.
func NewGraphRegistry(g *Graph, logger *slog.Logger) *GraphRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphRegistry{current: g, generation: 1, logger: logger}
}

// Current returns the graph new jobs are dispatched to.
func (r *GraphRegistry) Current() *Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Generation increments with every swap.
func (r *GraphRegistry) Generation() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Swap installs g and returns the new generation. A nil graph is ignored.
func (r *GraphRegistry) Swap(g *Graph) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g == nil {
		return r.generation
	}
	r.current = g
	r.generation++
	r.logger.Info("routing graph updated", "generation", r.generation, "atoms", g.size())
	return r.generation
}
