package products

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/observability"
)

// Options tunes the Processor.
type Options struct {
	// DefaultRadius is the LPMM radius for quantities without an override.
	DefaultRadius int
	// Workers is the total goroutine budget. It is split between concurrent
	// steps and the LPMM row bands of each step so their product stays
	// within Workers.
	Workers int
}

// Processor turns one forecast step of a quantity's Field into the catalog's
// summary products. It holds no per-run state and is safe for concurrent use.
type Processor struct {
	grid    ensemble.Grid
	catalog *Catalog
	engines map[string]*ensemble.AccumulationEngine
	kernels map[int]*ensemble.LPMM
	radius  map[string]int
	workers int // concurrent steps in ProcessSteps
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewProcessor builds accumulation engines and LPMM kernels for every catalog
// quantity, failing fast if a window or radius does not fit the grid.
func NewProcessor(grid ensemble.Grid, catalog *Catalog, opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Processor, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DefaultRadius == 0 {
		opts.DefaultRadius = ensemble.DefaultRadius
	}
	stepWorkers, bandWorkers := splitWorkers(opts.Workers)
	p := &Processor{
		grid:    grid,
		catalog: catalog,
		engines: make(map[string]*ensemble.AccumulationEngine),
		kernels: make(map[int]*ensemble.LPMM),
		radius:  make(map[string]int),
		workers: stepWorkers,
		logger:  logger,
		metrics: metrics,
	}

	for _, q := range catalog.Quantities {
		if q.Kind.Windowed() {
			e, err := ensemble.NewAccumulationEngine(grid, q.EnsembleWindows()...)
			if err != nil {
				return nil, fmt.Errorf("quantity %s: %w", q.Name, err)
			}
			p.engines[q.Name] = e
		}
		if !slices.Contains(q.Statistics, StatLPMM) {
			continue
		}
		r := q.Radius
		if r == 0 {
			r = opts.DefaultRadius
		}
		if _, ok := p.kernels[r]; !ok {
			k, err := ensemble.NewLPMM(grid, r, ensemble.WithWorkers(bandWorkers))
			if err != nil {
				return nil, fmt.Errorf("quantity %s: %w", q.Name, err)
			}
			p.kernels[r] = k
		}
		p.radius[q.Name] = r
	}
	return p, nil
}

// Catalog returns the catalog the processor was built from.
func (p *Processor) Catalog() *Catalog { return p.catalog }

// ProcessStep computes every product of field's quantity at step. The step's
// planes, and for windowed quantities the planes of the preceding window
// steps, must be fully written before the call.
func (p *Processor) ProcessStep(field *ensemble.Field, step int) ([]Product, error) {
	q, ok := p.catalog.Quantity(field.Quantity())
	if !ok {
		return nil, fmt.Errorf("no catalog entry for quantity %q", field.Quantity())
	}
	if field.Grid() != p.grid {
		return nil, fmt.Errorf("%w: field %q grid %s, processor grid %s",
			ensemble.ErrInvalidShape, q.Name, field.Grid(), p.grid)
	}
	if step < 0 || step >= field.Steps() {
		return nil, fmt.Errorf("%w: step %d outside [0,%d)", ensemble.ErrInvalidParameter, step, field.Steps())
	}

	start := time.Now()
	var out []Product
	if !q.Kind.Windowed() {
		prods, err := p.reduce(q, "", step, field.StepPlanes(step))
		if err != nil {
			return nil, err
		}
		out = prods
	} else {
		engine := p.engines[q.Name]
		for _, w := range engine.Windows() {
			if !w.Available(step) {
				out = append(out, p.unavailable(q, w.Name, step)...)
				continue
			}
			planes, err := engine.AccumulateStep(w.Name, step, field)
			if err != nil {
				return nil, fmt.Errorf("accumulate %s %s: %w", q.Name, w.Name, err)
			}
			prods, err := p.reduce(q, w.Name, step, planes)
			if err != nil {
				return nil, err
			}
			out = append(out, prods...)
		}
	}

	p.metrics.StepsCompleted.WithLabelValues(q.Name).Inc()
	p.logger.Debug("step processed",
		"quantity", q.Name,
		"step", step,
		"products", len(out),
		"duration", time.Since(start),
	)
	return out, nil
}

// ProcessSteps runs ProcessStep for each step on a bounded worker pool and
// returns the products ordered by step. The first failure cancels the rest.
func (p *Processor) ProcessSteps(ctx context.Context, field *ensemble.Field, steps []int) ([]Product, error) {
	results := make([][]Product, len(steps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, step := range steps {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			prods, err := p.ProcessStep(field, step)
			if err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
			results[i] = prods
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

// reduce applies the quantity's statistics and thresholds to one set of
// member planes.
func (p *Processor) reduce(q Quantity, window string, step int, planes [][]float64) ([]Product, error) {
	out := make([]Product, 0, len(q.Statistics)+len(q.Thresholds))

	for _, stat := range q.Statistics {
		start := time.Now()
		var (
			values []float64
			err    error
		)
		switch stat {
		case StatLPMM:
			values, err = p.kernels[p.radius[q.Name]].Compute(planes)
			if err == nil && q.Floor != nil {
				maskBelow(values, *q.Floor)
			}
		case StatMax:
			values, err = ensemble.Max(p.grid, planes)
		case StatMean:
			values, err = ensemble.Mean(p.grid, planes)
		default:
			err = fmt.Errorf("unknown statistic %q", stat)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s %s: %w", q.Name, window, stat, err)
		}
		p.observe(stat, start)
		out = append(out, Product{
			Quantity:  q.Name,
			Window:    window,
			Statistic: stat,
			Step:      step,
			Available: true,
			Units:     q.Units,
			Levels:    q.Levels,
			Values:    values,
		})
	}

	for _, threshold := range q.Thresholds {
		start := time.Now()
		values, err := ensemble.Probability(p.grid, planes, threshold)
		if err != nil {
			return nil, fmt.Errorf("%s %s prob %g: %w", q.Name, window, threshold, err)
		}
		p.observe(StatProbability, start)
		out = append(out, Product{
			Quantity:  q.Name,
			Window:    window,
			Statistic: StatProbability,
			Threshold: threshold,
			Step:      step,
			Available: true,
			Units:     "%",
			Levels:    p.catalog.ProbabilityLevels,
			Values:    values,
		})
	}
	return out, nil
}

// unavailable returns the zero-sentinel products for a window that lacks
// history at step.
func (p *Processor) unavailable(q Quantity, window string, step int) []Product {
	out := make([]Product, 0, len(q.Statistics)+len(q.Thresholds))
	for _, stat := range q.Statistics {
		out = append(out, Product{
			Quantity: q.Name, Window: window, Statistic: stat, Step: step,
			Units: q.Units, Levels: q.Levels, Values: p.grid.NewPlane(),
		})
	}
	for _, threshold := range q.Thresholds {
		out = append(out, Product{
			Quantity: q.Name, Window: window, Statistic: StatProbability, Threshold: threshold, Step: step,
			Units: "%", Levels: p.catalog.ProbabilityLevels, Values: p.grid.NewPlane(),
		})
	}
	return out
}

func (p *Processor) observe(stat Statistic, start time.Time) {
	p.metrics.KernelDuration.WithLabelValues(string(stat)).Observe(time.Since(start).Seconds())
	p.metrics.ProductsComputed.WithLabelValues(string(stat)).Inc()
}

// splitWorkers divides n into step and band workers with steps*bands <= n.
func splitWorkers(n int) (steps, bands int) {
	steps = max(1, int(math.Sqrt(float64(n))))
	return steps, max(1, n/steps)
}

// maskBelow marks values under floor as missing so contouring skips them.
func maskBelow(values []float64, floor float64) {
	for i, v := range values {
		if v < floor {
			values[i] = math.NaN()
		}
	}
}
