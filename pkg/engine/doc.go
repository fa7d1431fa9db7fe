// Package engine implements the atom routing graph that drives HTTP jobs.
//
// Architecture:
//
// atom.go             - Atom nodes, declaration parsing, one-time prepare
// graph.go            - Graph construction, reserved atoms, favicon pre-route, registry
// route.go            - Routing loop: hop execution, failure routing, trail notes
// catalog.go          - Atom type catalog
// handlers_builtin.go - Built-in atom types (see package handlers)
// http_handler.go     - net/http integration: job pool, allocation, dispatch
// registry.go         - Atomic swap of the live graph on reload
//
// A job enters at the graph's top atom and moves from atom to atom until an
// atom answers it. Jobs that run off the end of every route land on the 404
// fallback; routing failures land on the internal 500 atom.
package engine
