// Package governance holds the admission controls atoms use to shed load:
// keyed token buckets for the limit atom. Limits are local to one process and
// reset when the routing graph is rebuilt.
package governance
