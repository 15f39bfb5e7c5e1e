package ensemble

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func mustGrid(t *testing.T, ny, nx int) Grid {
	t.Helper()
	g, err := NewGrid(ny, nx)
	require.NoError(t, err)
	return g
}

func constPlane(g Grid, v float64) []float64 {
	p := g.NewPlane()
	for i := range p {
		p[i] = v
	}
	return p
}

func randomMembers(g Grid, p int, rng *rand.Rand, quantize float64) [][]float64 {
	members := make([][]float64, p)
	for m := range members {
		plane := g.NewPlane()
		for i := range plane {
			v := rng.Float64() * 10
			if quantize > 0 {
				v = math.Floor(v/quantize) * quantize
			}
			plane[i] = v
		}
		members[m] = plane
	}
	return members
}

// referenceLPMM is the literal sort-and-index formulation.
func referenceLPMM(g Grid, members [][]float64, delta int) []float64 {
	p := len(members)
	mean := g.NewPlane()
	for _, plane := range members {
		for i, v := range plane {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(p)
	}

	out := g.NewPlane()
	for j := delta; j < g.NY-delta; j++ {
		for i := delta; i < g.NX-delta; i++ {
			var meanPool, memberPool []float64
			for jj := -delta; jj <= delta; jj++ {
				for ii := -delta; ii <= delta; ii++ {
					idx := g.Index(j+jj, i+ii)
					meanPool = append(meanPool, mean[idx])
					for _, plane := range members {
						memberPool = append(memberPool, plane[idx])
					}
				}
			}
			slices.Sort(meanPool)
			slices.Sort(memberPool)
			r := slices.Index(meanPool, mean[g.Index(j, i)])
			out[g.Index(j, i)] = memberPool[p*r]
		}
	}
	return out
}

func interior(g Grid, delta int, fn func(j, i int)) {
	for j := delta; j < g.NY-delta; j++ {
		for i := delta; i < g.NX-delta; i++ {
			fn(j, i)
		}
	}
}

// --- tests ---

func TestLPMM_ConstantMembers(t *testing.T) {
	g := mustGrid(t, 5, 5)
	members := [][]float64{constPlane(g, 1), constPlane(g, 2), constPlane(g, 3)}

	out, err := ComputeLPMM(g, members, 1)
	require.NoError(t, err)

	for j := range g.NY {
		for i := range g.NX {
			if j >= 1 && j < 4 && i >= 1 && i < 4 {
				assert.Equal(t, 1.0, out[g.Index(j, i)], "interior (%d,%d)", j, i)
			} else {
				assert.Equal(t, 0.0, out[g.Index(j, i)], "boundary (%d,%d)", j, i)
			}
		}
	}
}

func TestLPMM_SingleMemberIsIdentity(t *testing.T) {
	g := mustGrid(t, 12, 10)
	rng := rand.New(rand.NewPCG(1, 2))
	members := randomMembers(g, 1, rng, 0)

	out, err := ComputeLPMM(g, members, 2)
	require.NoError(t, err)

	interior(g, 2, func(j, i int) {
		assert.Equal(t, members[0][g.Index(j, i)], out[g.Index(j, i)])
	})
}

func TestLPMM_MatchesSortReference(t *testing.T) {
	cases := []struct {
		name     string
		ny, nx   int
		members  int
		delta    int
		quantize float64
	}{
		{name: "continuous", ny: 15, nx: 17, members: 5, delta: 2},
		{name: "heavy ties", ny: 13, nx: 11, members: 4, delta: 3, quantize: 2.5},
		{name: "two valued", ny: 9, nx: 9, members: 3, delta: 1, quantize: 5},
		{name: "full width window", ny: 7, nx: 7, members: 6, delta: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := mustGrid(t, tc.ny, tc.nx)
			rng := rand.New(rand.NewPCG(uint64(tc.ny), uint64(tc.nx)))
			members := randomMembers(g, tc.members, rng, tc.quantize)

			got, err := ComputeLPMM(g, members, tc.delta)
			require.NoError(t, err)
			assert.Equal(t, referenceLPMM(g, members, tc.delta), got)
		})
	}
}

func TestLPMM_TieBreakUsesFirstIndex(t *testing.T) {
	// Mean pool at the centre is [0, 0, 1×7]; the centre mean is 1, whose
	// first index after sorting is 2, so the member pool index is 2·2 = 4.
	g := mustGrid(t, 3, 3)
	mean := []float64{0, 0, 1, 1, 1, 1, 1, 1, 1}
	m0, m1 := g.NewPlane(), g.NewPlane()
	for p := range mean {
		e := float64(p+1) / 64
		m0[p] = mean[p] - e
		m1[p] = mean[p] + e
	}

	out, err := ComputeLPMM(g, [][]float64{m0, m1}, 1)
	require.NoError(t, err)

	// Sorted member pool: -2/64, -1/64, 1/64, 2/64, 55/64, ...
	assert.Equal(t, 55.0/64, out[g.Index(1, 1)])
}

func TestLPMM_RangeLaw(t *testing.T) {
	g := mustGrid(t, 20, 18)
	rng := rand.New(rand.NewPCG(7, 11))
	members := randomMembers(g, 8, rng, 0)
	const delta = 3

	out, err := ComputeLPMM(g, members, delta)
	require.NoError(t, err)

	interior(g, delta, func(j, i int) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for jj := j - delta; jj <= j+delta; jj++ {
			for ii := i - delta; ii <= i+delta; ii++ {
				for _, plane := range members {
					lo = min(lo, plane[g.Index(jj, ii)])
					hi = max(hi, plane[g.Index(jj, ii)])
				}
			}
		}
		v := out[g.Index(j, i)]
		assert.GreaterOrEqual(t, v, lo)
		assert.LessOrEqual(t, v, hi)
	})
}

func TestLPMM_PreservesLocalizedSpike(t *testing.T) {
	g := mustGrid(t, 21, 21)
	const p = 4
	members := make([][]float64, p)
	for m := range members {
		members[m] = g.NewPlane()
	}
	// Member 0 carries a cone peaking at 40 in the domain centre; the others
	// are flat zero.
	for j := range g.NY {
		for i := range g.NX {
			d := math.Hypot(float64(j-10), float64(i-10))
			members[0][g.Index(j, i)] = max(0, 40-10*d)
		}
	}

	out, err := ComputeLPMM(g, members, 2)
	require.NoError(t, err)
	mean, err := Mean(g, members)
	require.NoError(t, err)

	centre := g.Index(10, 10)
	assert.Equal(t, 10.0, mean[centre], "plain mean dilutes the spike by 1/P")
	assert.Equal(t, 30.0, out[centre])
	assert.Greater(t, out[centre], 2*mean[centre])
}

func TestLPMM_WorkerCountDoesNotChangeResult(t *testing.T) {
	g := mustGrid(t, 31, 23)
	rng := rand.New(rand.NewPCG(3, 5))
	members := randomMembers(g, 6, rng, 0.5)

	serial, err := NewLPMM(g, 4, WithWorkers(1))
	require.NoError(t, err)
	parallel, err := NewLPMM(g, 4, WithWorkers(7))
	require.NoError(t, err)

	a, err := serial.Compute(members)
	require.NoError(t, err)
	b, err := parallel.Compute(members)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLPMM_DoesNotMutateInputs(t *testing.T) {
	g := mustGrid(t, 9, 9)
	rng := rand.New(rand.NewPCG(9, 9))
	members := randomMembers(g, 3, rng, 0)
	before := make([][]float64, len(members))
	for m := range members {
		before[m] = slices.Clone(members[m])
	}

	_, err := ComputeLPMM(g, members, 2)
	require.NoError(t, err)
	assert.Equal(t, before, members)
}

func TestNewLPMM_InvalidRadius(t *testing.T) {
	g := mustGrid(t, 5, 8)
	for _, delta := range []int{0, -1, 3} {
		_, err := NewLPMM(g, delta)
		assert.ErrorIs(t, err, ErrInvalidParameter, "delta %d", delta)
	}

	k, err := NewLPMM(g, 2)
	require.NoError(t, err, "window 5 fits a 5x8 grid")
	assert.Equal(t, 2, k.Radius())
}

func TestLPMM_ShapeMismatch(t *testing.T) {
	g := mustGrid(t, 5, 5)
	k, err := NewLPMM(g, 1)
	require.NoError(t, err)

	_, err = k.Compute(nil)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = k.Compute([][]float64{constPlane(g, 1), make([]float64, 24)})
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestSelectKth(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for n := 1; n < 60; n++ {
		a := make([]float64, n)
		for i := range a {
			a[i] = float64(rng.IntN(5))
		}
		sorted := slices.Clone(a)
		slices.Sort(sorted)
		for k := range n {
			buf := slices.Clone(a)
			assert.Equal(t, sorted[k], selectKth(buf, k), "n=%d k=%d", n, k)
		}
	}
}

func BenchmarkLPMM(b *testing.B) {
	g := Grid{NY: 161, NX: 241}
	rng := rand.New(rand.NewPCG(1, 1))
	members := randomMembers(g, 31, rng, 0)
	k, err := NewLPMM(g, DefaultRadius)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for b.Loop() {
		if _, err := k.Compute(members); err != nil {
			b.Fatal(err)
		}
	}
}
