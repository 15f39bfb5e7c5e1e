// Command validate runs a synthetic ensemble through the in-process assembly
// and product path and checks the integrity of everything it emits: plane
// shapes, probability bounds, the zero sentinel for unavailable windows, the
// LPMM boundary and envelope, bucket decumulation and delivery-order
// independence.
//
// Usage:
//
//	go run ./cmd/validate
//	go run ./cmd/validate -in data/mock/gefs_2024042600.msgpack -members 31
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/couchcryptid/ensemble-etl/internal/domain"
	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/mockrun"
	"github.com/couchcryptid/ensemble-etl/internal/observability"
	"github.com/couchcryptid/ensemble-etl/internal/pipeline"
	"github.com/couchcryptid/ensemble-etl/internal/products"
)

const tolerance = 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	// Cap the report; a broken kernel fails every cell.
	if len(p.errors) < 25 {
		p.errors = append(p.errors, fmt.Sprintf(format, args...))
	}
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	def := mockrun.DefaultOptions()
	in := flag.String("in", "", "msgpack fixture written by genmock (default: generate in memory)")
	members := flag.Int("members", 11, "ensemble size when generating")
	hours := flag.Int("hours", 24, "forecast horizon in hours")
	radius := flag.Int("radius", ensemble.DefaultRadius, "LPMM radius in grid points")
	seed := flag.Uint64("seed", def.Seed, "random seed when generating")
	flag.Parse()

	opts := def
	opts.Members = opts.Members[:min(*members, len(opts.Members))]
	opts.ForecastHours = *hours
	opts.Seed = *seed

	if code := run(opts, *in, *radius); code != 0 {
		os.Exit(code)
	}
}

func run(opts mockrun.Options, in string, radius int) int {
	// Fixed clock so repeated runs serialize byte-identical products.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.April, 26, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== Ensemble Product Integrity Validation ===")
	fmt.Println()

	var msgs []domain.FieldMessage
	if in != "" {
		var err error
		msgs, err = loadFixture(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
			return 1
		}
		opts = layoutOf(msgs, opts)
	} else {
		msgs = mockrun.Generate(opts)
	}

	ordered, err := process(opts, radius, msgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: process ordered run: %v\n", err)
		return 1
	}
	shuffled := slices.Clone(msgs)
	shuffle(shuffled)
	reordered, err := process(opts, radius, shuffled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: process shuffled run: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateShapes(ordered, opts),
		validateProbabilities(ordered, len(opts.Members)),
		validateZeroSentinel(ordered),
		validateLPMMBoundary(ordered, opts.Grid, radius),
		validateLPMMEnvelope(ordered),
		validateDecumulation(ordered, msgs, opts.StepHours),
		validateOrderIndependence(ordered, reordered),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Fields: %d messages, %d members, grid %s; products: %d\n",
		len(msgs), len(opts.Members), opts.Grid, len(ordered))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadFixture(path string) ([]domain.FieldMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var msgs []domain.FieldMessage
	if err := msgpack.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("fixture %s is empty", path)
	}
	return msgs, nil
}

// layoutOf derives members, grid and horizon from a fixture.
func layoutOf(msgs []domain.FieldMessage, opts mockrun.Options) mockrun.Options {
	opts.Members = nil
	opts.Grid = ensemble.Grid{NY: msgs[0].NY, NX: msgs[0].NX}
	opts.ForecastHours = 0
	seen := map[string]bool{}
	for _, m := range msgs {
		if !seen[m.Member] {
			seen[m.Member] = true
			opts.Members = append(opts.Members, m.Member)
		}
		opts.ForecastHours = max(opts.ForecastHours, m.ForecastHour)
	}
	return opts
}

func shuffle(msgs []domain.FieldMessage) {
	// Reverse plus an interleave is enough to defeat step-major delivery
	// without pulling in a second random source.
	slices.Reverse(msgs)
	for i := 0; i+1 < len(msgs); i += 2 {
		msgs[i], msgs[i+1] = msgs[i+1], msgs[i]
	}
}

// process feeds msgs through a fresh transformer and returns products by id.
func process(opts mockrun.Options, radius int, msgs []domain.FieldMessage) (map[string]domain.ProductMessage, error) {
	logger := slog.New(slog.DiscardHandler)
	metrics := observability.NewMetricsForTesting()

	catalog, err := products.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	proc, err := products.NewProcessor(opts.Grid, catalog, products.Options{DefaultRadius: radius}, logger, metrics)
	if err != nil {
		return nil, err
	}
	members, err := ensemble.NewMemberSet(opts.Members...)
	if err != nil {
		return nil, err
	}
	tr := pipeline.NewTransformer(proc, pipeline.RunLayout{
		Members:       members,
		Grid:          opts.Grid,
		StepHours:     opts.StepHours,
		ForecastHours: opts.ForecastHours,
		CacheSize:     len(opts.Quantities) + 1,
	}, logger, metrics)

	out := map[string]domain.ProductMessage{}
	for _, m := range msgs {
		value, err := domain.EncodeFieldMessage(m)
		if err != nil {
			return nil, err
		}
		events, err := tr.Transform(context.Background(), domain.RawEvent{Value: value})
		if err != nil {
			return nil, fmt.Errorf("%s %s f%03d: %w", m.Quantity, m.Member, m.ForecastHour, err)
		}
		for _, ev := range events {
			p, err := domain.DecodeProduct(ev.Value)
			if err != nil {
				return nil, err
			}
			out[p.ID] = p
		}
	}
	if open := tr.OpenRuns(); len(open) > 0 {
		return nil, fmt.Errorf("%d runs still open after the last message", len(open))
	}
	return out, nil
}

func validateShapes(prods map[string]domain.ProductMessage, opts mockrun.Options) *phase {
	p := &phase{name: "Phase 1: Product shape"}
	fmt.Println("Phase 1: Checking product plane shapes...")

	steps := opts.ForecastHours/opts.StepHours + 1
	perName := map[string]int{}
	for _, prod := range prods {
		if prod.NY != opts.Grid.NY || prod.NX != opts.Grid.NX {
			p.errorf("%s f%03d: grid %dx%d, want %s", prod.Product, prod.ForecastHour, prod.NY, prod.NX, opts.Grid)
		}
		if len(prod.Values) != opts.Grid.Len() {
			p.errorf("%s f%03d: %d values, want %d", prod.Product, prod.ForecastHour, len(prod.Values), opts.Grid.Len())
		}
		if prod.ForecastHour != prod.Step*opts.StepHours {
			p.errorf("%s: forecast hour %d does not match step %d", prod.Product, prod.ForecastHour, prod.Step)
		}
		perName[prod.RunID+"|"+prod.Product]++
	}
	for name, n := range perName {
		if n != steps {
			p.errorf("%s: %d steps emitted, want %d", name, n, steps)
		}
	}
	return p
}

func validateProbabilities(prods map[string]domain.ProductMessage, members int) *phase {
	p := &phase{name: "Phase 2: Probability bounds"}
	fmt.Println("Phase 2: Checking probability bounds and quantization...")

	quantum := 100 / float64(members)
	for _, prod := range prods {
		if prod.Statistic != string(products.StatProbability) {
			continue
		}
		for i, v := range prod.Values {
			if v < 0 || v > 100 {
				p.errorf("%s f%03d cell %d: %g outside [0, 100]", prod.Product, prod.ForecastHour, i, v)
				continue
			}
			k := v / quantum
			if math.Abs(k-math.Round(k)) > 1e-6 {
				p.errorf("%s f%03d cell %d: %g is not a multiple of 100/%d", prod.Product, prod.ForecastHour, i, v, members)
			}
		}
	}
	return p
}

func validateZeroSentinel(prods map[string]domain.ProductMessage) *phase {
	p := &phase{name: "Phase 3: Unavailable window sentinel"}
	fmt.Println("Phase 3: Checking unavailable windows are all zero...")

	for _, prod := range prods {
		if prod.Available {
			continue
		}
		for i, v := range prod.Values {
			if v != 0 {
				p.errorf("%s f%03d cell %d: %g in unavailable window", prod.Product, prod.ForecastHour, i, v)
				break
			}
		}
	}
	return p
}

func validateLPMMBoundary(prods map[string]domain.ProductMessage, g ensemble.Grid, radius int) *phase {
	p := &phase{name: "Phase 4: LPMM boundary"}
	fmt.Println("Phase 4: Checking LPMM boundary cells are zero...")

	for _, prod := range prods {
		if prod.Statistic != string(products.StatLPMM) {
			continue
		}
		for j := range g.NY {
			for i := range g.NX {
				if j >= radius && j < g.NY-radius && i >= radius && i < g.NX-radius {
					continue
				}
				if v := prod.Values[g.Index(j, i)]; v != 0 && !math.IsNaN(v) {
					p.errorf("%s f%03d (%d,%d): boundary value %g", prod.Product, prod.ForecastHour, j, i, v)
				}
			}
		}
	}
	return p
}

func validateLPMMEnvelope(prods map[string]domain.ProductMessage) *phase {
	p := &phase{name: "Phase 5: LPMM within member envelope"}
	fmt.Println("Phase 5: Checking LPMM never exceeds the window maximum...")

	maxima := map[string]domain.ProductMessage{}
	for _, prod := range prods {
		if prod.Statistic == string(products.StatMax) {
			maxima[envelopeKey(prod)] = prod
		}
	}
	for _, prod := range prods {
		if prod.Statistic != string(products.StatLPMM) {
			continue
		}
		mx, ok := maxima[envelopeKey(prod)]
		if !ok {
			continue
		}
		// The pool spans the whole neighbourhood, so compare against the
		// largest member value anywhere on the plane.
		top := slices.Max(mx.Values)
		for i, v := range prod.Values {
			if v < 0 || v > top+tolerance {
				p.errorf("%s f%03d cell %d: %g outside [0, %g]", prod.Product, prod.ForecastHour, i, v, top)
			}
		}
	}
	return p
}

func envelopeKey(prod domain.ProductMessage) string {
	return fmt.Sprintf("%s|%s|%s|%d", prod.RunID, prod.Quantity, prod.Window, prod.Step)
}

func validateDecumulation(prods map[string]domain.ProductMessage, msgs []domain.FieldMessage, stepHours int) *phase {
	p := &phase{name: "Phase 6: Bucket decumulation"}
	fmt.Println("Phase 6: Checking 6h window maxima match bucket totals...")

	// At each bucket reset hour the 6h window equals the reported bucket
	// total, so its ensemble max must match the largest raw value.
	raw := map[int][]float64{}
	for _, m := range msgs {
		if m.Quantity != mockrun.QPF || m.ForecastHour == 0 || m.ForecastHour%mockrun.BucketHours != 0 {
			continue
		}
		values := slices.Clone(m.Values)
		if err := domain.ConvertUnits(values, m.Units, "in"); err != nil {
			p.errorf("convert %s: %v", m.Units, err)
			return p
		}
		prev, ok := raw[m.ForecastHour]
		if !ok {
			raw[m.ForecastHour] = values
			continue
		}
		for i, v := range values {
			prev[i] = max(prev[i], v)
		}
	}

	window := fmt.Sprintf("%02dh", mockrun.BucketHours)
	for _, prod := range prods {
		if prod.Quantity != mockrun.QPF || prod.Window != window || prod.Statistic != string(products.StatMax) {
			continue
		}
		want, ok := raw[prod.Step*stepHours]
		if !ok {
			continue
		}
		for i, v := range prod.Values {
			if math.Abs(v-want[i]) > 1e-6 {
				p.errorf("f%03d cell %d: window max %g, bucket max %g", prod.ForecastHour, i, v, want[i])
			}
		}
	}
	return p
}

func validateOrderIndependence(ordered, shuffled map[string]domain.ProductMessage) *phase {
	p := &phase{name: "Phase 7: Delivery order independence"}
	fmt.Println("Phase 7: Checking shuffled delivery yields identical products...")

	if len(ordered) != len(shuffled) {
		p.errorf("product count: ordered %d, shuffled %d", len(ordered), len(shuffled))
	}
	for id, a := range ordered {
		b, ok := shuffled[id]
		if !ok {
			p.errorf("%s f%03d missing from shuffled run", a.Product, a.ForecastHour)
			continue
		}
		for i := range a.Values {
			x, y := a.Values[i], b.Values[i]
			if math.IsNaN(x) && math.IsNaN(y) {
				continue
			}
			if math.Abs(x-y) > tolerance {
				p.errorf("%s f%03d cell %d: ordered %g, shuffled %g", a.Product, a.ForecastHour, i, x, y)
				break
			}
		}
	}
	return p
}
