package ensemble

import "gonum.org/v1/gonum/floats"

// Probability returns, per pixel, the percentage of members whose value meets
// or exceeds threshold: 100·k/P.
func Probability(grid Grid, members [][]float64, threshold float64) ([]float64, error) {
	if err := grid.checkMembers(members); err != nil {
		return nil, err
	}
	counts := make([]int, grid.Len())
	for _, plane := range members {
		for i, v := range plane {
			if v >= threshold {
				counts[i]++
			}
		}
	}
	p := float64(len(members))
	out := grid.NewPlane()
	for i, k := range counts {
		out[i] = 100 * float64(k) / p
	}
	return out, nil
}

// Mean returns the per-pixel ensemble mean.
func Mean(grid Grid, members [][]float64) ([]float64, error) {
	if err := grid.checkMembers(members); err != nil {
		return nil, err
	}
	out := grid.NewPlane()
	for _, plane := range members {
		floats.Add(out, plane)
	}
	// Divide rather than scale by 1/P, which would round 1/P first.
	p := float64(len(members))
	for i := range out {
		out[i] /= p
	}
	return out, nil
}

// Max returns the per-pixel ensemble maximum.
func Max(grid Grid, members [][]float64) ([]float64, error) {
	if err := grid.checkMembers(members); err != nil {
		return nil, err
	}
	out := append([]float64(nil), members[0]...)
	for _, plane := range members[1:] {
		for i, v := range plane {
			if v > out[i] {
				out[i] = v
			}
		}
	}
	return out, nil
}
