package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/polisai/atomws/pkg/engine/runtime"
)

// Catalog maps atom type names to the factories building their behaviour.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]runtime.Factory
	aliases   map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]runtime.Factory),
		aliases:   make(map[string]string),
	}
}

// Register binds kind and its aliases to factory. Later registrations replace
// earlier ones.
func (c *Catalog) Register(kind string, factory runtime.Factory, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	canonical := strings.ToLower(strings.TrimSpace(kind))
	c.factories[canonical] = factory
	for _, alias := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" {
			continue
		}
		c.aliases[alias] = canonical
	}
}

// Resolve returns the factory for kind.
func (c *Catalog) Resolve(kind string) (runtime.Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kind = strings.ToLower(strings.TrimSpace(kind))
	if f, ok := c.factories[kind]; ok {
		return f, true
	}
	if canonical, ok := c.aliases[kind]; ok {
		if f, ok := c.factories[canonical]; ok {
			return f, true
		}
	}
	return nil, false
}

// Kinds lists the registered canonical kinds, sorted.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
