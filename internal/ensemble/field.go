package ensemble

// Field holds one physical quantity for a whole ensemble run, indexed
// [member][step][y][x] over contiguous storage.
//
// A Field is written by its owner (the accumulation or assembly code) and is
// read-only once a step has been handed to a kernel. It does no locking.
type Field struct {
	quantity string
	members  MemberSet
	steps    int
	grid     Grid
	data     []float64
}

// NewField allocates a zeroed field.
func NewField(quantity string, members MemberSet, steps int, grid Grid) (*Field, error) {
	if members.Len() == 0 {
		return nil, shapeErrorf("field %q has no members", quantity)
	}
	if steps <= 0 {
		return nil, paramErrorf("field %q needs at least one step, got %d", quantity, steps)
	}
	if grid.Len() <= 0 {
		return nil, paramErrorf("field %q has an empty grid %s", quantity, grid)
	}
	return &Field{
		quantity: quantity,
		members:  members,
		steps:    steps,
		grid:     grid,
		data:     make([]float64, members.Len()*steps*grid.Len()),
	}, nil
}

func (f *Field) Quantity() string   { return f.quantity }
func (f *Field) Members() MemberSet { return f.members }
func (f *Field) Steps() int         { return f.steps }
func (f *Field) Grid() Grid         { return f.grid }

func (f *Field) offset(member, step int) int {
	return (member*f.steps + step) * f.grid.Len()
}

func (f *Field) checkIndex(member, step int) error {
	if member < 0 || member >= f.members.Len() {
		return shapeErrorf("member index %d outside [0,%d)", member, f.members.Len())
	}
	if step < 0 || step >= f.steps {
		return paramErrorf("step %d outside [0,%d)", step, f.steps)
	}
	return nil
}

// Plane returns a writable view of one member at one step. It panics on an
// out-of-range index, like a slice access.
func (f *Field) Plane(member, step int) []float64 {
	if err := f.checkIndex(member, step); err != nil {
		panic(err)
	}
	off := f.offset(member, step)
	return f.data[off : off+f.grid.Len() : off+f.grid.Len()]
}

// SetPlane copies values into the plane of one member at one step.
func (f *Field) SetPlane(member, step int, values []float64) error {
	if err := f.checkIndex(member, step); err != nil {
		return err
	}
	if err := f.grid.CheckPlane(values); err != nil {
		return err
	}
	copy(f.Plane(member, step), values)
	return nil
}

// At returns a single value.
func (f *Field) At(member, step, j, i int) float64 {
	return f.Plane(member, step)[f.grid.Index(j, i)]
}

// StepPlanes returns one view per member at step, in member order.
func (f *Field) StepPlanes(step int) [][]float64 {
	planes := make([][]float64, f.members.Len())
	for m := range planes {
		planes[m] = f.Plane(m, step)
	}
	return planes
}

// History returns the planes of member for steps 0..step inclusive.
func (f *Field) History(member, step int) [][]float64 {
	planes := make([][]float64, step+1)
	for s := range planes {
		planes[s] = f.Plane(member, s)
	}
	return planes
}

// sameLayout reports whether g can receive step-indexed writes derived from f.
func (f *Field) sameLayout(g *Field) bool {
	if f.grid != g.grid || f.steps != g.steps || f.members.Len() != g.members.Len() {
		return false
	}
	for i := range f.members.ids {
		if f.members.ids[i] != g.members.ids[i] {
			return false
		}
	}
	return true
}

// SummaryField holds member-reduced planes indexed [step][y][x].
type SummaryField struct {
	steps int
	grid  Grid
	data  []float64
}

// NewSummaryField allocates a zeroed summary.
func NewSummaryField(steps int, grid Grid) (*SummaryField, error) {
	if steps <= 0 {
		return nil, paramErrorf("summary needs at least one step, got %d", steps)
	}
	if grid.Len() <= 0 {
		return nil, paramErrorf("summary has an empty grid %s", grid)
	}
	return &SummaryField{steps: steps, grid: grid, data: make([]float64, steps*grid.Len())}, nil
}

func (s *SummaryField) Steps() int { return s.steps }
func (s *SummaryField) Grid() Grid { return s.grid }

// Step returns a view of the plane at step.
func (s *SummaryField) Step(step int) []float64 {
	if step < 0 || step >= s.steps {
		panic(paramErrorf("step %d outside [0,%d)", step, s.steps))
	}
	off := step * s.grid.Len()
	return s.data[off : off+s.grid.Len() : off+s.grid.Len()]
}

// SetStep copies a plane into step.
func (s *SummaryField) SetStep(step int, values []float64) error {
	if step < 0 || step >= s.steps {
		return paramErrorf("step %d outside [0,%d)", step, s.steps)
	}
	if err := s.grid.CheckPlane(values); err != nil {
		return err
	}
	copy(s.Step(step), values)
	return nil
}
