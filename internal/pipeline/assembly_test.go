package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/products"
)

var assemblyGrid = ensemble.Grid{NY: 2, NX: 2}

func newTestAssembly(t *testing.T, kind products.Kind, steps int) *runAssembly {
	t.Helper()
	members, err := ensemble.NewMemberSet("c00", "p01")
	require.NoError(t, err)
	q := products.Quantity{Name: "qpf", Kind: kind}
	a, err := newRunAssembly("2024042600", time.Time{}, q, members, steps, 3, assemblyGrid)
	require.NoError(t, err)
	return a
}

func plane(v float64) []float64 { return []float64{v, v, v, v} }

func TestRunAssembly_AdvanceInOrder(t *testing.T) {
	a := newTestAssembly(t, products.KindState, 3)

	_, err := a.put("c00", 1, plane(1), ensemble.Interval{})
	require.NoError(t, err)
	_, err = a.put("p01", 1, plane(1), ensemble.Interval{})
	require.NoError(t, err)

	ready, err := a.advance()
	require.NoError(t, err)
	assert.Empty(t, ready, "step 1 waits for step 0")
	assert.Equal(t, 2, a.pending())

	_, err = a.put("c00", 0, plane(0), ensemble.Interval{})
	require.NoError(t, err)
	_, err = a.put("p01", 0, plane(0), ensemble.Interval{})
	require.NoError(t, err)

	ready, err = a.advance()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ready)
	assert.False(t, a.complete())

	_, err = a.put("c00", 2, plane(2), ensemble.Interval{})
	require.NoError(t, err)
	_, err = a.put("p01", 2, plane(2), ensemble.Interval{})
	require.NoError(t, err)
	ready, err = a.advance()
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ready)
	assert.True(t, a.complete())
	assert.Zero(t, a.pending())
}

func TestRunAssembly_OverwriteAndDuplicate(t *testing.T) {
	a := newTestAssembly(t, products.KindState, 2)

	dup, err := a.put("c00", 0, plane(1), ensemble.Interval{})
	require.NoError(t, err)
	assert.False(t, dup)
	// Redelivery before emission overwrites without double counting.
	dup, err = a.put("c00", 0, plane(5), ensemble.Interval{})
	require.NoError(t, err)
	assert.False(t, dup)
	ready, err := a.advance()
	require.NoError(t, err)
	assert.Empty(t, ready)

	_, err = a.put("p01", 0, plane(2), ensemble.Interval{})
	require.NoError(t, err)
	ready, err = a.advance()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ready)
	assert.InDelta(t, 5.0, a.field.At(0, 0, 1, 1), 0)

	dup, err = a.put("p01", 0, plane(9), ensemble.Interval{})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.InDelta(t, 2.0, a.field.At(1, 0, 0, 0), 0)
}

func TestRunAssembly_DecumulatesBuckets(t *testing.T) {
	a := newTestAssembly(t, products.KindBucket, 4)

	totals := []struct {
		iv    ensemble.Interval
		value float64
	}{
		{ensemble.Interval{Start: 0, End: 0}, 0},
		{ensemble.Interval{Start: 0, End: 3}, 1},
		{ensemble.Interval{Start: 0, End: 6}, 3},
		{ensemble.Interval{Start: 6, End: 9}, 4},
	}
	// Deliver in reverse: decumulation still runs in step order.
	for s := len(totals) - 1; s >= 0; s-- {
		for _, m := range []string{"c00", "p01"} {
			_, err := a.put(m, s, plane(totals[s].value), totals[s].iv)
			require.NoError(t, err)
		}
	}
	ready, err := a.advance()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, ready)

	for s, want := range []float64{0, 1, 2, 4} {
		assert.InDelta(t, want, a.field.At(1, s, 0, 1), 0, "step %d", s)
	}
}

func TestRunAssembly_Rejects(t *testing.T) {
	a := newTestAssembly(t, products.KindState, 2)

	_, err := a.put("p30", 0, plane(1), ensemble.Interval{})
	require.ErrorIs(t, err, ensemble.ErrInvalidShape)
	_, err = a.put("c00", 2, plane(1), ensemble.Interval{})
	require.ErrorIs(t, err, ensemble.ErrInvalidShape)
	_, err = a.put("c00", 0, []float64{1, 2, 3}, ensemble.Interval{})
	require.ErrorIs(t, err, ensemble.ErrInvalidShape)
	assert.Zero(t, a.pending())
}

func TestRunCache_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := newRunCache(2, func(key string, _ *runAssembly) { evicted = append(evicted, key) })

	a, b, d := &runAssembly{}, &runAssembly{}, &runAssembly{}
	c.put("a", a)
	c.put("b", b)
	got, ok := c.get("a") // a is now most recent
	require.True(t, ok)
	assert.Same(t, a, got)

	c.put("d", d)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.len())

	_, ok = c.get("b")
	assert.False(t, ok)

	c.delete("a")
	assert.Equal(t, 1, c.len())
	assert.Equal(t, []string{"b"}, evicted, "delete does not report eviction")

	c.put("d", a) // update in place
	got, _ = c.get("d")
	assert.Same(t, a, got)
	assert.Equal(t, 1, c.len())
}

func TestRunCache_MinimumSize(t *testing.T) {
	c := newRunCache(0, nil)
	c.put("a", nil)
	c.put("b", nil)
	assert.Equal(t, 1, c.len())
	_, ok := c.get("b")
	assert.True(t, ok)
}

func TestRunAssembly_BadIntervalLeavesStepIntact(t *testing.T) {
	a := newTestAssembly(t, products.KindBucket, 3)

	for _, m := range []string{"c00", "p01"} {
		_, err := a.put(m, 0, plane(0), ensemble.Interval{Start: 0, End: 0})
		require.NoError(t, err)
		_, err = a.put(m, 1, plane(2), ensemble.Interval{Start: 0, End: 3})
		require.NoError(t, err)
	}
	_, err := a.put("c00", 2, plane(5), ensemble.Interval{Start: 0, End: 6})
	require.NoError(t, err)
	_, err = a.put("p01", 2, plane(5), ensemble.Interval{Start: 4, End: 6})
	require.NoError(t, err)

	ready, err := a.advance()
	require.ErrorIs(t, err, ensemble.ErrInvalidParameter)
	assert.Equal(t, []int{0, 1}, ready, "earlier steps are still released")
	assert.Equal(t, 2, a.next)
	assert.Equal(t, plane(5), a.field.Plane(0, 2), "no member of the failing step is decumulated")

	_, err = a.put("p01", 2, plane(5), ensemble.Interval{Start: 0, End: 6})
	require.NoError(t, err)
	ready, err = a.advance()
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ready)
	assert.Equal(t, plane(3), a.field.Plane(0, 2))
	assert.Equal(t, plane(3), a.field.Plane(1, 2))
}
