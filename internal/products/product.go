package products

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
)

// Product is one member-reduced summary plane for a forecast step, ready for
// the downstream contouring collaborator.
type Product struct {
	Quantity  string
	Window    string // empty for state quantities
	Statistic Statistic
	Threshold float64 // prob products only
	Step      int

	// Available is false when the accumulation window lacks history at this
	// step; Values is then the zero plane.
	Available bool

	Units  string
	Levels []float64
	Values []float64
}

// Name is the stable product identifier, e.g. "qpf_06h_lpmm",
// "qpf_06h_prob_0.25" or "snod_max".
func (p Product) Name() string {
	parts := []string{p.Quantity}
	if p.Window != "" {
		parts = append(parts, p.Window)
	}
	parts = append(parts, string(p.Statistic))
	if p.Statistic == StatProbability {
		parts = append(parts, strconv.FormatFloat(p.Threshold, 'f', -1, 64))
	}
	return strings.Join(parts, "_")
}

// Collect groups per-step products by name into SummaryFields spanning steps.
func Collect(products []Product, steps int, grid ensemble.Grid) (map[string]*ensemble.SummaryField, error) {
	out := make(map[string]*ensemble.SummaryField)
	for _, p := range products {
		s, ok := out[p.Name()]
		if !ok {
			var err error
			s, err = ensemble.NewSummaryField(steps, grid)
			if err != nil {
				return nil, err
			}
			out[p.Name()] = s
		}
		if err := s.SetStep(p.Step, p.Values); err != nil {
			return nil, fmt.Errorf("collect %s: %w", p.Name(), err)
		}
	}
	return out, nil
}
