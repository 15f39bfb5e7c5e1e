package ensemble

import "gonum.org/v1/gonum/floats"

// Window is a named rolling sum over a fixed number of increment steps,
// e.g. {Name: "06h", Steps: 2} with 3-hourly increments.
type Window struct {
	Name  string
	Steps int
}

// NewWindow validates and returns a Window.
func NewWindow(name string, steps int) (Window, error) {
	if name == "" {
		return Window{}, paramErrorf("window name is empty")
	}
	if steps <= 0 {
		return Window{}, paramErrorf("window %q length must be positive, got %d", name, steps)
	}
	return Window{Name: name, Steps: steps}, nil
}

// Available reports whether enough history exists at step to fill the window.
func (w Window) Available(step int) bool { return step >= w.Steps-1 }

// AccumulationEngine derives rolling-window sums from per-step increments.
// It keeps no state besides its window definitions, so results are always
// recomputable from the increments alone.
type AccumulationEngine struct {
	grid    Grid
	windows []Window
	byName  map[string]Window
}

// NewAccumulationEngine builds an engine for grid with the given windows.
func NewAccumulationEngine(grid Grid, windows ...Window) (*AccumulationEngine, error) {
	if grid.Len() <= 0 {
		return nil, paramErrorf("accumulation grid %s is empty", grid)
	}
	byName := make(map[string]Window, len(windows))
	for _, w := range windows {
		if _, err := NewWindow(w.Name, w.Steps); err != nil {
			return nil, err
		}
		if _, dup := byName[w.Name]; dup {
			return nil, paramErrorf("duplicate window %q", w.Name)
		}
		byName[w.Name] = w
	}
	return &AccumulationEngine{
		grid:    grid,
		windows: append([]Window(nil), windows...),
		byName:  byName,
	}, nil
}

// Windows returns the configured windows in declaration order.
func (e *AccumulationEngine) Windows() []Window { return append([]Window(nil), e.windows...) }

// Window looks up a window by name.
func (e *AccumulationEngine) Window(name string) (Window, error) {
	w, ok := e.byName[name]
	if !ok {
		return Window{}, paramErrorf("unknown window %q", name)
	}
	return w, nil
}

// Accumulate returns the windowed sum at step for one member. increments
// holds that member's increment planes for steps 0..step (longer history is
// allowed). Before the window is available the zero plane is returned.
func (e *AccumulationEngine) Accumulate(name string, step int, increments [][]float64) ([]float64, error) {
	w, err := e.Window(name)
	if err != nil {
		return nil, err
	}
	if step < 0 {
		return nil, paramErrorf("step %d is negative", step)
	}
	if len(increments) <= step {
		return nil, paramErrorf("history has %d steps, need %d for step %d", len(increments), step+1, step)
	}
	for s := 0; s <= step; s++ {
		if err := e.grid.CheckPlane(increments[s]); err != nil {
			return nil, shapeErrorf("increment at step %d: %v", s, err)
		}
	}

	out := e.grid.NewPlane()
	if !w.Available(step) {
		return out, nil
	}
	for s := step - w.Steps + 1; s <= step; s++ {
		floats.Add(out, increments[s])
	}
	return out, nil
}

// AccumulateStep returns the windowed sum at step for every member of field,
// in member order.
func (e *AccumulationEngine) AccumulateStep(name string, step int, field *Field) ([][]float64, error) {
	if field.Grid() != e.grid {
		return nil, shapeErrorf("field %q grid %s does not match engine grid %s", field.Quantity(), field.Grid(), e.grid)
	}
	if step < 0 || step >= field.Steps() {
		return nil, paramErrorf("step %d outside [0,%d)", step, field.Steps())
	}
	out := make([][]float64, field.Members().Len())
	for m := range out {
		plane, err := e.Accumulate(name, step, field.History(m, step))
		if err != nil {
			return nil, err
		}
		out[m] = plane
	}
	return out, nil
}

// AccumulateInto writes the windowed sums of src into dst for every member
// and step. dst must share src's grid, members and step count.
func (e *AccumulationEngine) AccumulateInto(dst, src *Field, name string) error {
	if !src.sameLayout(dst) {
		return shapeErrorf("field %q layout does not match field %q", dst.Quantity(), src.Quantity())
	}
	for s := range src.Steps() {
		planes, err := e.AccumulateStep(name, s, src)
		if err != nil {
			return err
		}
		for m, plane := range planes {
			copy(dst.Plane(m, s), plane)
		}
	}
	return nil
}
