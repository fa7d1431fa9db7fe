package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// Reserved atom ids created by every graph.
const (
	IDTop      = "top"
	IDFallback = "fallback"
	IDInternal = "internal"
)

// Options configure a Graph.
type Options struct {
	Identity job.Identity
	// Route is the list of top-level declarations.
	Route []any
	// Favicon is the path of an icon served at /favicon.ico; empty disables it.
	Favicon string
	// Catalog resolves atom types; DefaultCatalog() when nil.
	Catalog *Catalog
	Logger  *slog.Logger
	// CaptureHeaders lists request headers recorded on the request span.
	CaptureHeaders []string
	// Redactions are the telemetry redaction rules for captured headers.
	Redactions map[string]string
}

// Graph is a constructed routing graph: the entrance, the failure atoms and the
// registry of named atoms.
type Graph struct {
	identity   job.Identity
	catalog    *Catalog
	logger     *slog.Logger
	capture    []string
	redactions map[string]string

	// prepCtx outlives NewGraph's ctx so late atomizations can still prepare.
	prepCtx context.Context

	mu       sync.Mutex
	registry map[string]*Atom
	initErrs []error
	pending  sync.WaitGroup

	entrance *Atom
	failure  *Atom
	internal *Atom
}

// NewGraph builds the atom graph for opts and waits until every atom has been
// prepared. Configuration and initialisation failures are returned as
// DomainErrors.
func NewGraph(ctx context.Context, opts Options) (*Graph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	g := &Graph{
		identity:   opts.Identity,
		catalog:    catalog,
		logger:     logger,
		capture:    opts.CaptureHeaders,
		redactions: opts.Redactions,
		prepCtx:    context.WithoutCancel(ctx),
		registry:   make(map[string]*Atom),
	}

	route := append([]any(nil), opts.Route...)
	if fav := faviconRoute(opts); fav != nil {
		route = append([]any{fav}, route...)
	}

	// The reserved atoms are registered before the top route is built so user
	// declarations can never claim their ids.
	var err error
	if g.failure, err = newAtom(g, domain.Schema{domain.KeyAtom: "error:" + IDFallback, "code": 404}, nil); err != nil {
		return nil, err
	}
	if g.internal, err = newAtom(g, domain.Schema{domain.KeyAtom: "error:" + IDInternal, "code": 500}, nil); err != nil {
		return nil, err
	}
	if g.entrance, err = newAtom(g, domain.Schema{domain.KeyAtom: "place:" + IDTop, domain.KeyRoute: route}, nil); err != nil {
		return nil, err
	}
	g.failure.ancestor = g.entrance
	g.internal.ancestor = g.entrance

	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	logger.Debug("routing graph ready", "atoms", g.size())
	return g, nil
}

func faviconRoute(opts Options) domain.Schema {
	if opts.Favicon == "" || opts.Identity.Hide {
		return nil
	}
	icon, err := filepath.Abs(opts.Favicon)
	if err != nil {
		icon = opts.Favicon
	}
	return domain.Schema{
		domain.KeyAtom: "match",
		"using":        []any{map[string]any{"path": `^/favicon\.ico$`}},
		domain.KeyRoute: []any{
			domain.Schema{domain.KeyAtom: "alter", "using": []any{map[string]any{"path": filepath.Base(icon)}}},
			domain.Schema{domain.KeyAtom: "file", "root": filepath.Dir(icon), "mimes": map[string]any{"ico": "image/x-icon"}},
		},
	}
}

// Entrance returns the root atom.
func (g *Graph) Entrance() *Atom { return g.entrance }

// Failure returns the 404 atom reached when a route falls off the graph.
func (g *Graph) Failure() *Atom { return g.failure }

// Identity returns the serving identity.
func (g *Graph) Identity() job.Identity { return g.identity }

// Load resolves "type:id" or "id" to a registered atom.
func (g *Graph) Load(name string) (*Atom, bool) {
	_, id, err := Identify(name)
	if err != nil || id == "" {
		// A bare word is an id, not a type.
		_, id, err = Identify(":" + name)
		if err != nil || id == "" {
			return nil, false
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.registry[id]
	return a, ok
}

func (g *Graph) save(a *Atom) error {
	if a.id == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.registry[a.id]; exists {
		return domain.ConfigError(domain.ErrDuplicateAtomID, "duplicate atom id: %q", a.id)
	}
	g.registry[a.id] = a
	return nil
}

func (g *Graph) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.registry)
}

// prepare runs p once in its own goroutine; routing into a waits for it.
func (g *Graph) prepare(a *Atom, p runtime.Preparer) {
	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		err := safePrepare(g.prepCtx, a, p)
		if err != nil {
			err = &domain.DomainError{
				Err:     fmt.Errorf("%w: %w", domain.ErrAtomInitFailed, err),
				Code:    domain.CodeInitialization,
				Message: fmt.Sprintf("atom %q failed to initialise", a.describe()),
			}
			g.mu.Lock()
			g.initErrs = append(g.initErrs, err)
			g.mu.Unlock()
		}
		a.initErr = err
		close(a.ready)
	}()
}

func safePrepare(ctx context.Context, a *Atom, p runtime.Preparer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prepare panicked: %v", r)
		}
	}()
	return p.Prepare(ctx, a)
}

func (g *Graph) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return &domain.DomainError{
			Err:     fmt.Errorf("%w: %w", domain.ErrAtomInitFailed, ctx.Err()),
			Code:    domain.CodeInitialization,
			Message: "routing graph preparation interrupted",
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.initErrs) > 0 {
		return errors.Join(g.initErrs...)
	}
	return nil
}

// atomize returns child when it already is an atom, builds a new atom when it
// is a declaration, and nil otherwise.
func (g *Graph) atomize(child any, ancestor *Atom) (*Atom, error) {
	switch c := child.(type) {
	case *Atom:
		return c, nil
	case nil:
		return nil, nil
	}
	schema, ok := domain.AsSchema(child)
	if !ok {
		return nil, nil
	}
	return newAtom(g, schema, ancestor)
}

// sequence atomizes children in order, linking each atom to the next.
func (g *Graph) sequence(children any, ancestor *Atom) ([]*Atom, error) {
	list := domain.AsList(children)
	chain := make([]*Atom, 0, len(list))
	for i, child := range list {
		atom, err := g.atomize(child, ancestor)
		if err != nil {
			return nil, err
		}
		if atom == nil {
			return nil, domain.ConfigError(domain.ErrInvalidDeclaration, "route entry %d is not an atom declaration: %v", i, child)
		}
		if n := len(chain); n > 0 {
			chain[n-1].successor = atom
		}
		chain = append(chain, atom)
	}
	return chain, nil
}
