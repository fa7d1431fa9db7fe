// Package policy embeds the Open Policy Agent engine so routing graphs can gate
// jobs on Rego decisions.
//
// Modules are parsed once, prepared queries are cached per entrypoint, and
// decisions for identical inputs are served from a bounded LRU cache. The
// package knows nothing about HTTP; callers hand it a plain input document.
package policy
