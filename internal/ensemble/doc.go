// Package ensemble implements the numeric core of ensemble post-processing:
// field storage, rolling accumulation windows, the Localized
// Probability-Matched Mean (LPMM) and threshold exceedance probability.
//
// The package is a pure transform over in-memory arrays. It performs no I/O
// and keeps no state besides the Field containers callers create.
//
// # Layout
//
// Every two-dimensional plane is a row-major []float64 of length NY*NX:
//
//	value(j, i) = plane[j*NX + i]
//
// A [Field] stores a whole ensemble quantity as contiguous
// [member][step][y][x] values. [Field.Plane] returns a view of one member at
// one step, so kernels read member data without copying.
//
// # Accumulation
//
// A [Window] of L steps sums the last L increment planes. When fewer than L
// steps of history exist (step < L-1) the window is not yet computable and
// the accumulated plane is defined as zero. This is a sentinel, not an error.
//
// GEFS reports total precipitation as a bucket since the last periodic reset
// (every 6 hours with 3-hourly output). [Decumulate] turns such a bucket total
// into a per-step increment before accumulation.
//
// # LPMM
//
// For an ensemble of P member planes and a radius δ, the LPMM at an interior
// pixel (j, i) is computed as follows:
//
//  1. mean = elementwise average of the P members (computed once)
//  2. meanPool = the (2δ+1)² mean values in the window centred at (j, i)
//  3. memberPool = the P·(2δ+1)² member values in the same window
//  4. r = rank of mean(j, i) in the ascending meanPool, taking the first
//     index among equal values
//  5. output(j, i) = the value at index P·r of the ascending memberPool
//
// The rank in step 4 equals the number of pool values strictly less than the
// centre value, so no sort of the mean pool is needed. Step 5 is an order
// statistic and is found by selection instead of a full sort. Both produce
// exactly the values of the sort-and-index formulation.
//
// Boundary pixels (closer than δ to any edge) have no full window and are
// left at zero. Contours near the domain edge therefore fall off to zero; this
// is deliberate and matches the reference processing.
//
// # Errors
//
// Shape disagreements wrap [ErrInvalidShape]. Invalid window lengths, radii
// and indices wrap [ErrInvalidParameter]. Both are deterministic given the
// inputs and should be treated as caller configuration bugs.
package ensemble
