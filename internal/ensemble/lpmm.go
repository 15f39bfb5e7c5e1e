package ensemble

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultRadius is the LPMM window radius in grid cells (about 125 km on the
// 0.25° GEFS grid).
const DefaultRadius = 5

// LPMM computes the Localized Probability-Matched Mean for a fixed grid and
// radius. It is safe for concurrent use.
type LPMM struct {
	grid    Grid
	delta   int
	workers int
}

// LPMMOption configures an LPMM kernel.
type LPMMOption func(*LPMM)

// WithWorkers bounds the number of row bands computed concurrently.
// Values below 1 mean a single worker.
func WithWorkers(n int) LPMMOption {
	return func(k *LPMM) {
		if n < 1 {
			n = 1
		}
		k.workers = n
	}
}

// NewLPMM validates delta against grid and returns a kernel.
func NewLPMM(grid Grid, delta int, opts ...LPMMOption) (*LPMM, error) {
	if grid.Len() <= 0 {
		return nil, paramErrorf("lpmm grid %s is empty", grid)
	}
	if delta <= 0 {
		return nil, paramErrorf("lpmm radius must be positive, got %d", delta)
	}
	if 2*delta+1 > min(grid.NY, grid.NX) {
		return nil, paramErrorf("lpmm window %d exceeds grid %s", 2*delta+1, grid)
	}
	k := &LPMM{grid: grid, delta: delta, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// ComputeLPMM is the one-shot form of NewLPMM followed by Compute.
func ComputeLPMM(grid Grid, members [][]float64, delta int) ([]float64, error) {
	k, err := NewLPMM(grid, delta)
	if err != nil {
		return nil, err
	}
	return k.Compute(members)
}

// Radius returns δ.
func (k *LPMM) Radius() int { return k.delta }

// Workers returns the row-band concurrency limit.
func (k *LPMM) Workers() int { return k.workers }

// Grid returns the kernel grid.
func (k *LPMM) Grid() Grid { return k.grid }

// Compute returns the LPMM plane of members. Pixels within δ of an edge are
// zero.
func (k *LPMM) Compute(members [][]float64) ([]float64, error) {
	if err := k.grid.checkMembers(members); err != nil {
		return nil, err
	}
	mean, err := Mean(k.grid, members)
	if err != nil {
		return nil, err
	}

	out := k.grid.NewPlane()
	first, last := k.delta, k.grid.NY-k.delta // interior rows [first, last)
	rows := last - first
	bands := min(k.workers, rows)
	per := (rows + bands - 1) / bands

	var g errgroup.Group
	g.SetLimit(k.workers)
	for start := first; start < last; start += per {
		end := min(start+per, last)
		g.Go(func() error {
			k.band(out, mean, members, start, end)
			return nil
		})
	}
	_ = g.Wait() // bands never fail
	return out, nil
}

// band fills rows [j0, j1) of out. Each band owns its scratch pools.
func (k *LPMM) band(out, mean []float64, members [][]float64, j0, j1 int) {
	d, nx := k.delta, k.grid.NX
	side := 2*d + 1
	p := len(members)
	pool := make([]float64, 0, p*side*side)

	for j := j0; j < j1; j++ {
		for i := d; i < nx-d; i++ {
			centre := mean[j*nx+i]

			// Rank of the centre in the ascending mean pool, first index on ties.
			r := 0
			for jj := j - d; jj <= j+d; jj++ {
				row := mean[jj*nx+i-d : jj*nx+i+d+1]
				for _, v := range row {
					if v < centre {
						r++
					}
				}
			}

			pool = pool[:0]
			for _, plane := range members {
				for jj := j - d; jj <= j+d; jj++ {
					pool = append(pool, plane[jj*nx+i-d:jj*nx+i+d+1]...)
				}
			}
			out[j*nx+i] = selectKth(pool, p*r)
		}
	}
}

// selectKth returns the k-th smallest element of a (0-based), reordering a in
// place. It uses Hoare partitioning around a middle-element value, which
// handles long runs of equal values without degrading.
func selectKth(a []float64, k int) float64 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		pivot := a[lo+(hi-lo)/2]
		i, j := lo, hi
		for i <= j {
			for a[i] < pivot {
				i++
			}
			for a[j] > pivot {
				j--
			}
			if i <= j {
				a[i], a[j] = a[j], a[i]
				i++
				j--
			}
		}
		// [lo, j] <= pivot, [i, hi] >= pivot, and (j, i) == pivot.
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return a[k]
		}
	}
	return a[k]
}
