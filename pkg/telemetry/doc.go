// Package telemetry wires OpenTelemetry tracing and metrics into the dispatch
// engine.
//
// It owns tracer provider setup, per-hop spans and instruments, job release
// counters, and the attribute redaction applied to captured request headers.
package telemetry
