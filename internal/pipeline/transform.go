package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/ensemble-etl/internal/domain"
	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/observability"
	"github.com/couchcryptid/ensemble-etl/internal/products"
)

// RunLayout fixes the shape every run assembly is built with.
type RunLayout struct {
	Members       ensemble.MemberSet
	Grid          ensemble.Grid
	StepHours     int
	ForecastHours int
	CacheSize     int
}

// Steps is the number of forecast steps including f000.
func (l RunLayout) Steps() int { return l.ForecastHours/l.StepHours + 1 }

// EnsembleTransformer implements Transformer. It assembles member planes into
// per-run Fields and emits products for each forecast step once the whole
// ensemble has arrived.
type EnsembleTransformer struct {
	mu        sync.Mutex
	processor *products.Processor
	layout    RunLayout
	runs      *runCache
	closed    *runCache // keys of completed or evicted runs, to drop late traffic
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewTransformer creates an EnsembleTransformer.
func NewTransformer(processor *products.Processor, layout RunLayout, logger *slog.Logger, metrics *observability.Metrics) *EnsembleTransformer {
	t := &EnsembleTransformer{
		processor: processor,
		layout:    layout,
		logger:    logger,
		metrics:   metrics,
	}
	t.runs = newRunCache(layout.CacheSize, t.evicted)
	t.closed = newRunCache(4*layout.CacheSize, nil)
	return t
}

// Transform absorbs one FieldMessage. It returns the serialized products of
// every step the message completed, which is usually none.
func (t *EnsembleTransformer) Transform(ctx context.Context, raw domain.RawEvent) ([]domain.OutputEvent, error) {
	msg, err := domain.ParseFieldMessage(raw)
	if err != nil {
		return nil, err
	}
	q, ok := t.processor.Catalog().Quantity(msg.Quantity)
	if !ok {
		return nil, fmt.Errorf("unknown quantity %q", msg.Quantity)
	}
	if msg.NY != t.layout.Grid.NY || msg.NX != t.layout.Grid.NX {
		return nil, fmt.Errorf("%w: message grid %dx%d, service grid %s",
			ensemble.ErrInvalidShape, msg.NY, msg.NX, t.layout.Grid)
	}
	step, err := t.step(msg, q)
	if err != nil {
		return nil, err
	}
	if err := domain.ConvertUnits(msg.Values, msg.Units, q.Units); err != nil {
		return nil, fmt.Errorf("quantity %s: %w", q.Name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := msg.RunID + "|" + q.Name
	if _, done := t.closed.get(key); done {
		t.logger.Debug("late message for closed run ignored",
			"run_id", msg.RunID, "quantity", q.Name, "member", msg.Member, "forecast_hour", msg.ForecastHour)
		return nil, nil
	}

	a, ok := t.runs.get(key)
	if !ok {
		a, err = newRunAssembly(msg.RunID, msg.RunTime, q, t.layout.Members, t.layout.Steps(), t.layout.StepHours, t.layout.Grid)
		if err != nil {
			return nil, err
		}
		t.runs.put(key, a)
		t.metrics.OpenRuns.Set(float64(t.runs.len()))
		t.logger.Info("run opened", "run_id", msg.RunID, "quantity", q.Name)
	}

	dup, err := a.put(msg.Member, step, msg.Values, msg.Interval())
	if err != nil {
		return nil, err
	}
	if dup {
		t.logger.Debug("duplicate message for emitted step ignored",
			"run_id", msg.RunID, "quantity", q.Name, "member", msg.Member, "forecast_hour", msg.ForecastHour)
		return nil, nil
	}

	ready, advErr := a.advance()
	if advErr != nil {
		// The message itself was stored; an earlier plane of the run blocks
		// the next step. Steps released before it are still emitted.
		t.logger.Error("run assembly stalled",
			"run_id", a.runID, "quantity", q.Name, "next_step", a.next, "error", advErr)
	}
	if a.complete() {
		t.runs.delete(key)
		t.closed.put(key, nil)
		t.metrics.OpenRuns.Set(float64(t.runs.len()))
		t.logger.Info("run complete", "run_id", msg.RunID, "quantity", q.Name)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	prods, err := t.processor.ProcessSteps(ctx, a.field, ready)
	if err != nil {
		return nil, fmt.Errorf("run %s quantity %s: %w", a.runID, q.Name, err)
	}
	out := make([]domain.OutputEvent, 0, len(prods))
	for _, p := range prods {
		ev, err := domain.SerializeProduct(t.productMessage(a, p))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	t.logger.Info("steps emitted",
		"run_id", a.runID,
		"quantity", q.Name,
		"first_step", ready[0],
		"last_step", ready[len(ready)-1],
		"products", len(out),
	)
	return out, nil
}

// OpenRuns reports the assemblies still waiting for members, most recently
// updated first.
func (t *EnsembleTransformer) OpenRuns() []domain.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	open := t.runs.values()
	out := make([]domain.RunStatus, len(open))
	for i, a := range open {
		out[i] = domain.RunStatus{
			RunID:         a.runID,
			RunTime:       a.runTime,
			Quantity:      a.quantity.Name,
			NextStep:      a.next,
			Steps:         a.field.Steps(),
			PendingPlanes: a.pending(),
		}
	}
	return out
}

// step maps a message's forecast hour onto the run's step axis and checks a
// bucket interval ends at that hour and can be decumulated there.
func (t *EnsembleTransformer) step(msg domain.FieldMessage, q products.Quantity) (int, error) {
	if msg.ForecastHour%t.layout.StepHours != 0 || msg.ForecastHour > t.layout.ForecastHours {
		return 0, fmt.Errorf("%w: forecast hour %d is not a %d-hourly step within %d hours",
			ensemble.ErrInvalidParameter, msg.ForecastHour, t.layout.StepHours, t.layout.ForecastHours)
	}
	step := msg.ForecastHour / t.layout.StepHours
	if q.Kind != products.KindBucket {
		return step, nil
	}
	if msg.IntervalEnd != msg.ForecastHour {
		return 0, fmt.Errorf("%w: bucket interval %d-%d does not end at forecast hour %d",
			ensemble.ErrInvalidParameter, msg.IntervalStart, msg.IntervalEnd, msg.ForecastHour)
	}
	if err := msg.Interval().Check(step, t.layout.StepHours); err != nil {
		return 0, fmt.Errorf("bucket message %s member %s: %w", q.Name, msg.Member, err)
	}
	return step, nil
}

func (t *EnsembleTransformer) productMessage(a *runAssembly, p products.Product) domain.ProductMessage {
	return domain.ProductMessage{
		RunID:        a.runID,
		RunTime:      a.runTime,
		Quantity:     p.Quantity,
		Product:      p.Name(),
		Window:       p.Window,
		Statistic:    string(p.Statistic),
		Threshold:    p.Threshold,
		ForecastHour: p.Step * t.layout.StepHours,
		Step:         p.Step,
		Available:    p.Available,
		Units:        p.Units,
		NY:           t.layout.Grid.NY,
		NX:           t.layout.Grid.NX,
		Levels:       p.Levels,
		Values:       p.Values,
	}
}

// evicted runs under the cache lock when a new run pushes out an unfinished
// one. The run is closed: its earlier offsets are committed, so a reopened
// assembly could never complete.
func (t *EnsembleTransformer) evicted(key string, a *runAssembly) {
	t.closed.put(key, nil)
	t.metrics.RunsEvicted.Inc()
	t.logger.Warn("incomplete run evicted",
		"run_id", a.runID,
		"quantity", a.quantity.Name,
		"key", key,
		"next_step", a.next,
		"pending_planes", a.pending(),
	)
}
