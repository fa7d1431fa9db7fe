// Package service binds listeners and feeds every inbound request through a
// routing graph as a pooled job.
//
// A Service owns its connection accounting, the sliding rate measures behind
// the metrics document, and optionally a redis publisher that shares the
// document with sibling instances. The backend route built by BackendRoute
// serves the document as JSON and in the prometheus exposition format.
package service
