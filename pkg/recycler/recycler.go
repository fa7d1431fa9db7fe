// Package recycler provides a capacity-bounded freelist pool for objects that
// are allocated and released at request rate (jobs, rate measures).
//
// Unlike sync.Pool, a Recycler keeps released objects until they are reused,
// runs explicit allocate/release hooks, ignores double releases and reports
// created/recycled counters for the metrics document.
package recycler

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/polisai/atomws/pkg/domain"
)

// DefaultLimit bounds the freelist when Options.Limit is not set.
const DefaultLimit = 10000

// Poolable objects run Allocate when handed out and Release when handed back.
type Poolable[A, R any] interface {
	comparable
	Allocate(args A)
	Release(args R)
}

// Options configure a Recycler.
type Options struct {
	// Title names the pool in the metrics document (e.g. "Job").
	Title string
	// Limit caps the number of idle objects kept for reuse.
	Limit int
}

// Stats are cumulative pool counters.
type Stats struct {
	Created  uint64 `json:"created"`
	Recycled uint64 `json:"recycled"`
}

// Recycler is a freelist of T. It is safe for concurrent use; hooks run
// outside the pool lock.
type Recycler[T Poolable[A, R], A, R any] struct {
	mu       sync.Mutex
	title    string
	limit    int
	newFn    func() T
	kind     reflect.Type
	free     []T
	inUse    map[T]struct{}
	created  uint64
	recycled uint64
}

// New constructs a Recycler producing fresh objects with newFn.
func New[T Poolable[A, R], A, R any](opts Options, newFn func() T) *Recycler[T, A, R] {
	if newFn == nil {
		panic("recycler: constructor is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recycler[T, A, R]{
		title: opts.Title,
		limit: limit,
		newFn: newFn,
		inUse: make(map[T]struct{}),
	}
}

// Title returns the pool's metrics name.
func (r *Recycler[T, A, R]) Title() string { return r.title }

// Allocate hands out an idle object, or constructs one, and runs its Allocate hook.
func (r *Recycler[T, A, R]) Allocate(args A) T {
	r.mu.Lock()
	var obj T
	if n := len(r.free); n > 0 {
		obj = r.free[n-1]
		var zero T
		r.free[n-1] = zero
		r.free = r.free[:n-1]
		r.recycled++
	} else {
		obj = r.newFn()
		if r.kind == nil {
			r.kind = reflect.TypeOf(obj)
		}
		r.created++
	}
	r.inUse[obj] = struct{}{}
	r.mu.Unlock()

	obj.Allocate(args)
	return obj
}

// Release hands obj back. Releasing an object that is not currently allocated
// is a no-op. Objects whose dynamic type differs from the pool's are rejected
// with domain.ErrTypeMismatch.
func (r *Recycler[T, A, R]) Release(obj T, args R) error {
	r.mu.Lock()
	if r.kind != nil {
		if got := reflect.TypeOf(obj); got != r.kind {
			r.mu.Unlock()
			return &domain.DomainError{
				Err:     domain.ErrTypeMismatch,
				Code:    domain.CodeResourceMisuse,
				Message: fmt.Sprintf("recycler %q: cannot release %v into pool of %v", r.title, got, r.kind),
			}
		}
	}
	if _, ok := r.inUse[obj]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.inUse, obj)
	r.mu.Unlock()

	obj.Release(args)

	r.mu.Lock()
	if len(r.free) < r.limit {
		r.free = append(r.free, obj)
	}
	r.mu.Unlock()
	return nil
}

// InUse reports whether obj is currently allocated from this pool.
func (r *Recycler[T, A, R]) InUse(obj T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inUse[obj]
	return ok
}

// Idle returns the number of objects waiting on the freelist.
func (r *Recycler[T, A, R]) Idle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.free)
}

// Stats returns the cumulative counters.
func (r *Recycler[T, A, R]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Created: r.created, Recycled: r.recycled}
}
