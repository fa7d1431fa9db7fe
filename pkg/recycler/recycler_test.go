package recycler

import (
	"errors"
	"testing"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type counter struct {
	label     string
	allocs    int
	releases  int
	lastNote  string
	allocated bool
}

func (c *counter) Allocate(label string) {
	c.label = label
	c.allocs++
	c.allocated = true
}

func (c *counter) Release(note string) {
	c.label = ""
	c.lastNote = note
	c.releases++
	c.allocated = false
}

func newCounterPool(limit int) *Recycler[*counter, string, string] {
	return New[*counter, string, string](Options{Title: "Counter", Limit: limit}, func() *counter { return &counter{} })
}

func TestRecyclerRoundTripReusesInstance(t *testing.T) {
	pool := newCounterPool(0)

	first := pool.Allocate("a")
	require.Equal(t, "a", first.label)
	require.NoError(t, pool.Release(first, "done"))
	assert.Equal(t, "", first.label, "release hook should clear state")
	assert.Equal(t, "done", first.lastNote)

	second := pool.Allocate("b")
	assert.Same(t, first, second)
	assert.Equal(t, "b", second.label)
	assert.Equal(t, 2, second.allocs)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Created)
	assert.Equal(t, uint64(1), stats.Recycled)
}

func TestRecyclerDoubleReleaseIsNoop(t *testing.T) {
	pool := newCounterPool(0)

	obj := pool.Allocate("x")
	require.NoError(t, pool.Release(obj, "one"))
	require.NoError(t, pool.Release(obj, "two"))

	assert.Equal(t, 1, obj.releases)
	assert.Equal(t, "one", obj.lastNote)
	assert.Equal(t, 1, pool.Idle())
}

func TestRecyclerDropsBeyondLimit(t *testing.T) {
	pool := newCounterPool(1)

	a := pool.Allocate("a")
	b := pool.Allocate("b")
	require.NoError(t, pool.Release(a, ""))
	require.NoError(t, pool.Release(b, ""))

	assert.Equal(t, 1, pool.Idle())
	assert.False(t, pool.InUse(a))
	assert.False(t, pool.InUse(b))
}

type item interface {
	Allocate(int)
	Release(int)
}

type itemA struct{ n int }

func (i *itemA) Allocate(n int) { i.n = n }
func (i *itemA) Release(int)    { i.n = 0 }

type itemB struct{ n int }

func (i *itemB) Allocate(n int) { i.n = n }
func (i *itemB) Release(int)    { i.n = 0 }

func TestRecyclerRejectsForeignType(t *testing.T) {
	pool := New[item, int, int](Options{Title: "Item"}, func() item { return &itemA{} })
	_ = pool.Allocate(1)

	err := pool.Release(&itemB{}, 0)
	require.Error(t, err)
	if !errors.Is(err, domain.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	assert.Equal(t, domain.CodeResourceMisuse, domain.ErrorCode(err))
}

func TestRegistrySumsSharedTitles(t *testing.T) {
	reg := NewRegistry()
	p1 := newCounterPool(0)
	p2 := newCounterPool(0)
	reg.Register(p1)
	reg.Register(p2)

	_ = p1.Allocate("a")
	obj := p2.Allocate("b")
	require.NoError(t, p2.Release(obj, ""))
	_ = p2.Allocate("c")

	snap := reg.Snapshot()
	assert.Equal(t, Stats{Created: 2, Recycled: 1}, snap["Counter"])
}

func TestRecyclerCountersProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := newCounterPool(rapid.IntRange(1, 8).Draw(t, "limit"))
		var live []*counter
		allocs := 0

		steps := rapid.IntRange(1, 64).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, "release") {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "idx")
				if err := pool.Release(live[idx], ""); err != nil {
					t.Fatalf("release: %v", err)
				}
				live = append(live[:idx], live[idx+1:]...)
				continue
			}
			live = append(live, pool.Allocate("n"))
			allocs++
		}

		stats := pool.Stats()
		if int(stats.Created+stats.Recycled) != allocs {
			t.Fatalf("created %d + recycled %d != allocations %d", stats.Created, stats.Recycled, allocs)
		}
		for _, obj := range live {
			if !pool.InUse(obj) {
				t.Fatalf("live object reported idle")
			}
		}
	})
}
