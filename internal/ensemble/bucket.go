package ensemble

import "gonum.org/v1/gonum/floats"

// Interval is the reporting interval of a bucket value, in forecast hours.
type Interval struct {
	Start int
	End   int
}

// Hours is the interval length.
func (iv Interval) Hours() int { return iv.End - iv.Start }

// Check reports whether the interval can be decumulated at step on a grid of
// stepHours-long steps: it must start at or after hour 0, span a non-negative
// multiple of stepHours, and not reach back before the first step.
func (iv Interval) Check(step, stepHours int) error {
	if stepHours <= 0 {
		return paramErrorf("step length must be positive, got %d hours", stepHours)
	}
	span := iv.Hours()
	if iv.Start < 0 || span < 0 || span%stepHours != 0 {
		return paramErrorf("interval %d-%d is not a multiple of %d hours", iv.Start, iv.End, stepHours)
	}
	if span/stepHours-1 > step {
		return paramErrorf("interval %d-%d starts before the first step", iv.Start, iv.End)
	}
	return nil
}

// Decumulate converts the bucket total stored at field[member][step] into the
// increment for that single step, in place. The planes of the preceding steps
// of the same bucket must already hold increments, so callers decumulate in
// step order. The plane is left untouched when an error is returned.
//
// A zero-length interval (the analysis step) yields a zero plane.
func Decumulate(field *Field, member, step int, interval Interval, stepHours int) error {
	if err := field.checkIndex(member, step); err != nil {
		return err
	}
	if err := interval.Check(step, stepHours); err != nil {
		return err
	}

	plane := field.Plane(member, step)
	span := interval.Hours()
	if span == 0 {
		clear(plane)
		return nil
	}

	prior := span/stepHours - 1
	for s := step - prior; s < step; s++ {
		floats.Sub(plane, field.Plane(member, s))
	}
	// Upstream bucket totals are rounded, which can leave tiny negative
	// residues after subtraction.
	for i, v := range plane {
		if v < 0 {
			plane[i] = 0
		}
	}
	return nil
}
