package pipeline

import (
	"fmt"
	"time"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/products"
)

// runAssembly gathers the member planes of one quantity for one run and
// releases forecast steps to the processor in order, once every member has
// arrived.
type runAssembly struct {
	runID     string
	runTime   time.Time
	quantity  products.Quantity
	stepHours int

	field     *ensemble.Field
	received  []bool // [member*steps + step]
	intervals []ensemble.Interval
	count     []int // members received per step
	next      int   // first step not yet emitted
}

func newRunAssembly(runID string, runTime time.Time, q products.Quantity, members ensemble.MemberSet, steps, stepHours int, grid ensemble.Grid) (*runAssembly, error) {
	field, err := ensemble.NewField(q.Name, members, steps, grid)
	if err != nil {
		return nil, err
	}
	return &runAssembly{
		runID:     runID,
		runTime:   runTime,
		quantity:  q,
		stepHours: stepHours,
		field:     field,
		received:  make([]bool, members.Len()*steps),
		intervals: make([]ensemble.Interval, members.Len()*steps),
		count:     make([]int, steps),
	}, nil
}

// put stores one member plane. It reports duplicate when the step has
// already been emitted, leaving the assembly unchanged.
func (a *runAssembly) put(member string, step int, values []float64, interval ensemble.Interval) (duplicate bool, err error) {
	m, ok := a.field.Members().Index(member)
	if !ok {
		return false, fmt.Errorf("%w: member %q is not in the ensemble", ensemble.ErrInvalidShape, member)
	}
	if step < 0 || step >= a.field.Steps() {
		return false, fmt.Errorf("%w: step %d outside [0,%d)", ensemble.ErrInvalidShape, step, a.field.Steps())
	}
	if step < a.next {
		return true, nil
	}
	if err := a.field.SetPlane(m, step, values); err != nil {
		return false, err
	}

	i := m*a.field.Steps() + step
	a.intervals[i] = interval
	if !a.received[i] {
		a.received[i] = true
		a.count[step]++
	}
	return false, nil
}

// advance emits every step that is complete and whose predecessors are all
// emitted. Bucket planes are decumulated to per-step increments first, in
// step order, so each emitted step is fully written before it is read.
//
// Every member's interval is checked before any plane of the step is
// touched. On error the steps already released are still returned and the
// failing step stays pending with its planes intact, so a corrected message
// can replace the bad one.
func (a *runAssembly) advance() ([]int, error) {
	var ready []int
	members := a.field.Members().Len()
	for a.next < a.field.Steps() && a.count[a.next] == members {
		if a.quantity.Kind == products.KindBucket {
			if err := a.decumulate(a.next); err != nil {
				return ready, err
			}
		}
		ready = append(ready, a.next)
		a.next++
	}
	return ready, nil
}

func (a *runAssembly) decumulate(step int) error {
	steps := a.field.Steps()
	members := a.field.Members()
	for m := range members.Len() {
		if err := a.intervals[m*steps+step].Check(step, a.stepHours); err != nil {
			return fmt.Errorf("decumulate %s member %s step %d: %w", a.quantity.Name, members.ID(m), step, err)
		}
	}
	for m := range members.Len() {
		if err := ensemble.Decumulate(a.field, m, step, a.intervals[m*steps+step], a.stepHours); err != nil {
			return fmt.Errorf("decumulate %s member %s step %d: %w", a.quantity.Name, members.ID(m), step, err)
		}
	}
	return nil
}

func (a *runAssembly) complete() bool { return a.next == a.field.Steps() }

// pending is the number of member planes held for steps not yet emitted.
func (a *runAssembly) pending() int {
	n := 0
	for s := a.next; s < a.field.Steps(); s++ {
		n += a.count[s]
	}
	return n
}
