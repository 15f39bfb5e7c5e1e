package products

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog reports a catalog that cannot drive the processor.
var ErrInvalidCatalog = errors.New("invalid product catalog")

// Kind describes how a quantity's incoming planes relate to forecast steps.
type Kind string

const (
	// KindIncrement planes already hold the amount for one step.
	KindIncrement Kind = "increment"
	// KindBucket planes hold a total since the last bucket reset and are
	// decumulated into increments before accumulation.
	KindBucket Kind = "bucket"
	// KindState planes are instantaneous values (snow depth, wind).
	KindState Kind = "state"
)

// Windowed reports whether the kind is summed over accumulation windows.
func (k Kind) Windowed() bool { return k == KindIncrement || k == KindBucket }

// Statistic names a member-axis reduction.
type Statistic string

const (
	StatLPMM        Statistic = "lpmm"
	StatMax         Statistic = "max"
	StatMean        Statistic = "mean"
	StatProbability Statistic = "prob"
)

// WindowSpec is the YAML form of an accumulation window.
type WindowSpec struct {
	Name  string `yaml:"name" json:"name"`
	Steps int    `yaml:"steps" json:"steps"`
}

// Quantity is one catalog entry.
type Quantity struct {
	Name       string       `yaml:"name" json:"name"`
	Kind       Kind         `yaml:"kind" json:"kind"`
	Units      string       `yaml:"units" json:"units"`
	Windows    []WindowSpec `yaml:"windows" json:"windows,omitempty"`
	Statistics []Statistic  `yaml:"statistics" json:"statistics"`
	Thresholds []float64    `yaml:"thresholds" json:"thresholds"`
	Radius     int          `yaml:"radius" json:"radius,omitempty"`
	Floor      *float64     `yaml:"floor" json:"floor,omitempty"`
	Levels     []float64    `yaml:"levels" json:"levels"`
}

// EnsembleWindows converts the YAML windows into core windows.
func (q Quantity) EnsembleWindows() []ensemble.Window {
	out := make([]ensemble.Window, len(q.Windows))
	for i, w := range q.Windows {
		out[i] = ensemble.Window{Name: w.Name, Steps: w.Steps}
	}
	return out
}

// Catalog lists the quantities the service post-processes.
type Catalog struct {
	ProbabilityLevels []float64  `yaml:"probability_levels" json:"probability_levels"`
	Quantities        []Quantity `yaml:"quantities" json:"quantities"`
}

// DefaultCatalog returns the embedded GEFS catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read product catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Quantity looks up a catalog entry by name.
func (c *Catalog) Quantity(name string) (Quantity, bool) {
	for _, q := range c.Quantities {
		if q.Name == name {
			return q, true
		}
	}
	return Quantity{}, false
}

// Validate checks the catalog's internal consistency. Radii are checked
// against the grid when the Processor is built.
func (c *Catalog) Validate() error {
	if len(c.Quantities) == 0 {
		return fmt.Errorf("%w: no quantities", ErrInvalidCatalog)
	}
	if !increasing(c.ProbabilityLevels) {
		return fmt.Errorf("%w: probability_levels must be strictly increasing", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c.Quantities))
	for _, q := range c.Quantities {
		if q.Name == "" {
			return fmt.Errorf("%w: quantity with empty name", ErrInvalidCatalog)
		}
		if seen[q.Name] {
			return fmt.Errorf("%w: duplicate quantity %q", ErrInvalidCatalog, q.Name)
		}
		seen[q.Name] = true
		if err := q.validate(); err != nil {
			return fmt.Errorf("%w: quantity %q: %v", ErrInvalidCatalog, q.Name, err)
		}
	}
	return nil
}

func (q Quantity) validate() error {
	switch q.Kind {
	case KindIncrement, KindBucket:
		if len(q.Windows) == 0 {
			return fmt.Errorf("%s quantity needs at least one window", q.Kind)
		}
	case KindState:
		if len(q.Windows) > 0 {
			return errors.New("state quantity cannot have windows")
		}
	default:
		return fmt.Errorf("unknown kind %q", q.Kind)
	}

	names := make(map[string]bool, len(q.Windows))
	for _, w := range q.Windows {
		if _, err := ensemble.NewWindow(w.Name, w.Steps); err != nil {
			return err
		}
		if names[w.Name] {
			return fmt.Errorf("duplicate window %q", w.Name)
		}
		names[w.Name] = true
	}

	for _, s := range q.Statistics {
		switch s {
		case StatLPMM, StatMax, StatMean:
		default:
			return fmt.Errorf("unknown statistic %q", s)
		}
	}
	if len(q.Statistics) == 0 && len(q.Thresholds) == 0 {
		return errors.New("no statistics or thresholds")
	}
	if slices.Contains(q.Statistics, StatLPMM) && q.Radius < 0 {
		return fmt.Errorf("radius must not be negative, got %d", q.Radius)
	}
	if !increasing(q.Thresholds) {
		return errors.New("thresholds must be strictly increasing")
	}
	if !increasing(q.Levels) {
		return errors.New("levels must be strictly increasing")
	}
	return nil
}

func increasing(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] <= v[i-1] {
			return false
		}
	}
	return true
}
