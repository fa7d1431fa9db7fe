// Package domain defines the types shared by every layer of the dispatch engine:
// routing declarations (Schema), literal-or-computed schema values, the read-only
// job view those values are computed against, and the error taxonomy.
//
// The package depends on the Go standard library only. The engine, the atom
// catalog, configuration decoding and the service boundary all import it; it
// imports none of them.
package domain
