package recycler

import "sync"

// Source is anything that can report pool counters under a title.
type Source interface {
	Title() string
	Stats() Stats
}

// Registry collects pools so their counters can be published together.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a pool.
func (g *Registry) Register(src Source) {
	if src == nil {
		return
	}
	g.mu.Lock()
	g.sources = append(g.sources, src)
	g.mu.Unlock()
}

// Snapshot returns counters by pool title. Pools sharing a title are summed.
func (g *Registry) Snapshot() map[string]Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Stats, len(g.sources))
	for _, src := range g.sources {
		s := src.Stats()
		acc := out[src.Title()]
		acc.Created += s.Created
		acc.Recycled += s.Recycled
		out[src.Title()] = acc
	}
	return out
}
