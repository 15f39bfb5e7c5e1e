package products

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/observability"
)

const testCatalog = `
probability_levels: [25, 50, 75, 100]
quantities:
  - name: apcp
    kind: increment
    units: in
    windows:
      - { name: 03h, steps: 1 }
      - { name: 06h, steps: 2 }
    statistics: [lpmm, max, mean]
    thresholds: [0.5, 1.5]
  - name: snod
    kind: state
    units: in
    statistics: [lpmm]
    floor: 0.05
    radius: 1
`

func testProcessor(t *testing.T, g ensemble.Grid) *Processor {
	t.Helper()
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	p, err := NewProcessor(g, c, Options{DefaultRadius: 2, Workers: 2}, slog.Default(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	return p
}

// fourMembers builds a field where member m holds the constant m+1 at every
// step, except member 3 which is 0.
func fourMembers(t *testing.T, quantity string, g ensemble.Grid, steps int) *ensemble.Field {
	t.Helper()
	ms, err := ensemble.NewMemberSet("c00", "p01", "p02", "p03")
	require.NoError(t, err)
	f, err := ensemble.NewField(quantity, ms, steps, g)
	require.NoError(t, err)
	vals := []float64{1, 2, 3, 0}
	for m, v := range vals {
		for s := range steps {
			plane := f.Plane(m, s)
			for i := range plane {
				plane[i] = v
			}
		}
	}
	return f
}

func byName(prods []Product) map[string]Product {
	out := make(map[string]Product, len(prods))
	for _, p := range prods {
		out[p.Name()] = p
	}
	return out
}

func TestProduct_Name(t *testing.T) {
	assert.Equal(t, "qpf_06h_lpmm", Product{Quantity: "qpf", Window: "06h", Statistic: StatLPMM}.Name())
	assert.Equal(t, "qpf_06h_prob_0.25", Product{Quantity: "qpf", Window: "06h", Statistic: StatProbability, Threshold: 0.25}.Name())
	assert.Equal(t, "wgust10m_prob_39", Product{Quantity: "wgust10m", Statistic: StatProbability, Threshold: 39}.Name())
	assert.Equal(t, "snod_max", Product{Quantity: "snod", Statistic: StatMax}.Name())
}

func TestProcessStep_WindowNotYetAvailable(t *testing.T) {
	g := ensemble.Grid{NY: 8, NX: 8}
	p := testProcessor(t, g)
	f := fourMembers(t, "apcp", g, 3)

	prods, err := p.ProcessStep(f, 0)
	require.NoError(t, err)
	// (3 statistics + 2 thresholds) per window.
	require.Len(t, prods, 10)

	got := byName(prods)
	for _, name := range []string{"apcp_06h_lpmm", "apcp_06h_max", "apcp_06h_mean", "apcp_06h_prob_0.5", "apcp_06h_prob_1.5"} {
		prod, ok := got[name]
		require.True(t, ok, name)
		assert.False(t, prod.Available, name)
		assert.Equal(t, make([]float64, g.Len()), prod.Values, name)
	}
	assert.True(t, got["apcp_03h_max"].Available)
	assert.InDelta(t, 3.0, got["apcp_03h_max"].Values[0], 0)
}

func TestProcessStep_WindowedStatistics(t *testing.T) {
	g := ensemble.Grid{NY: 8, NX: 8}
	p := testProcessor(t, g)
	f := fourMembers(t, "apcp", g, 3)

	prods, err := p.ProcessStep(f, 2)
	require.NoError(t, err)
	got := byName(prods)

	// 06h sums two steps: members hold 2, 4, 6, 0.
	mx := got["apcp_06h_max"]
	assert.True(t, mx.Available)
	assert.Equal(t, "in", mx.Units)
	assert.InDelta(t, 6.0, mx.Values[10], 0)
	assert.InDelta(t, 3.0, got["apcp_06h_mean"].Values[10], 0)

	// A spatially flat mean has rank zero everywhere, so the interior takes
	// the pool minimum and the boundary is zero.
	lpmm := got["apcp_06h_lpmm"].Values
	assert.InDelta(t, 0.0, lpmm[g.Index(0, 0)], 0)
	assert.InDelta(t, 0.0, lpmm[g.Index(3, 1)], 0)
	assert.InDelta(t, 0.0, lpmm[g.Index(3, 3)], 0)

	// 03h: 1, 2, 3, 0. Three of four reach 0.5, two reach 1.5.
	prob := got["apcp_03h_prob_0.5"]
	assert.Equal(t, "%", prob.Units)
	assert.Equal(t, []float64{25, 50, 75, 100}, prob.Levels)
	assert.InDelta(t, 75.0, prob.Values[5], 0)
	assert.InDelta(t, 50.0, got["apcp_03h_prob_1.5"].Values[5], 0)
	// 06h: 2, 4, 6, 0.
	assert.InDelta(t, 75.0, got["apcp_06h_prob_1.5"].Values[5], 0)
}

func TestProcessStep_StateQuantityAppliesFloor(t *testing.T) {
	g := ensemble.Grid{NY: 5, NX: 5}
	p := testProcessor(t, g)
	ms, err := ensemble.NewMemberSet("c00", "p01")
	require.NoError(t, err)
	f, err := ensemble.NewField("snod", ms, 1, g)
	require.NoError(t, err)
	for m := range 2 {
		plane := f.Plane(m, 0)
		for i := range plane {
			plane[i] = 2
		}
	}
	// A trace patch in the lower-right corner.
	for j := 2; j < 5; j++ {
		for i := 2; i < 5; i++ {
			f.Plane(0, 0)[g.Index(j, i)] = 0.01
			f.Plane(1, 0)[g.Index(j, i)] = 0.01
		}
	}

	prods, err := p.ProcessStep(f, 0)
	require.NoError(t, err)
	require.Len(t, prods, 1)
	got := prods[0]
	assert.Equal(t, "snod_lpmm", got.Name())
	assert.True(t, got.Available)

	// Radius 1 leaves the 3x3 interior. Everything under the floor,
	// including the boundary zero, is masked.
	assert.True(t, math.IsNaN(got.Values[g.Index(0, 0)]))
	assert.True(t, math.IsNaN(got.Values[g.Index(3, 3)]))
	assert.InDelta(t, 2.0, got.Values[g.Index(1, 1)], 0)
}

func TestProcessSteps_OrderedByStep(t *testing.T) {
	g := ensemble.Grid{NY: 8, NX: 8}
	p := testProcessor(t, g)
	f := fourMembers(t, "apcp", g, 4)

	prods, err := p.ProcessSteps(context.Background(), f, []int{0, 1, 2, 3})
	require.NoError(t, err)
	require.Len(t, prods, 40)
	for i, prod := range prods {
		assert.Equal(t, i/10, prod.Step)
	}

	summaries, err := Collect(prods, 4, g)
	require.NoError(t, err)
	require.Contains(t, summaries, "apcp_06h_max")
	assert.InDelta(t, 0.0, summaries["apcp_06h_max"].Step(0)[0], 0)
	assert.InDelta(t, 6.0, summaries["apcp_06h_max"].Step(3)[0], 0)
}

func TestProcessSteps_PropagatesFailure(t *testing.T) {
	g := ensemble.Grid{NY: 8, NX: 8}
	p := testProcessor(t, g)
	f := fourMembers(t, "apcp", g, 2)

	_, err := p.ProcessSteps(context.Background(), f, []int{0, 1, 5})
	require.ErrorIs(t, err, ensemble.ErrInvalidParameter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ProcessSteps(ctx, f, []int{0, 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessStep_Errors(t *testing.T) {
	g := ensemble.Grid{NY: 8, NX: 8}
	p := testProcessor(t, g)

	_, err := p.ProcessStep(fourMembers(t, "tmp2m", g, 1), 0)
	require.Error(t, err)

	_, err = p.ProcessStep(fourMembers(t, "apcp", ensemble.Grid{NY: 9, NX: 8}, 1), 0)
	require.ErrorIs(t, err, ensemble.ErrInvalidShape)
}

func TestNewProcessor_RadiusTooLargeForGrid(t *testing.T) {
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	_, err = NewProcessor(ensemble.Grid{NY: 4, NX: 20}, c, Options{DefaultRadius: 2}, slog.Default(), observability.NewMetricsForTesting())
	require.ErrorIs(t, err, ensemble.ErrInvalidParameter)
}

func TestNewProcessor_SplitsWorkerBudget(t *testing.T) {
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	for _, workers := range []int{0, 1, 2, 3, 8, 16, 31} {
		p, err := NewProcessor(ensemble.Grid{NY: 8, NX: 8}, c, Options{DefaultRadius: 2, Workers: workers}, slog.Default(), observability.NewMetricsForTesting())
		require.NoError(t, err)

		budget := max(workers, 1)
		require.NotEmpty(t, p.kernels)
		for r, k := range p.kernels {
			assert.GreaterOrEqual(t, k.Workers(), 1)
			assert.LessOrEqual(t, p.workers*k.Workers(), budget, "workers=%d radius=%d", workers, r)
		}
		assert.GreaterOrEqual(t, p.workers, 1)
	}
}
