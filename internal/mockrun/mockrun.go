// Package mockrun synthesizes GEFS-like ensemble runs for fixtures, load
// tests and offline validation.
//
// Each member carries a Gaussian storm that travels west to east across the
// grid. Members differ in track latitude, speed and intensity, so the
// ensemble mean smears the storm while individual members keep sharp peaks,
// which is the case LPMM exists for.
package mockrun

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/couchcryptid/ensemble-etl/internal/domain"
	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
)

// Quantity names and source units as published by the decoder.
const (
	QPF   = "qpf"
	SNOD  = "snod"
	WSPD  = "wspd10m"
	WGUST = "wgust10m"
)

// BucketHours is the GEFS APCP reset period.
const BucketHours = 6

// Options describes the run to generate.
type Options struct {
	RunID         string
	RunTime       time.Time
	Members       []string
	Grid          ensemble.Grid
	StepHours     int
	ForecastHours int
	Quantities    []string
	Seed          uint64
	// Shuffle delivers messages in random order instead of step-major order.
	Shuffle bool
}

// DefaultOptions is a small 31-member run suitable for tests.
func DefaultOptions() Options {
	members := []string{"c00"}
	for i := 1; i <= 30; i++ {
		members = append(members, memberID(i))
	}
	return Options{
		RunID:         "2024042600",
		RunTime:       time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC),
		Members:       members,
		Grid:          ensemble.Grid{NY: 41, NX: 61},
		StepHours:     3,
		ForecastHours: 48,
		Quantities:    []string{QPF, SNOD, WSPD, WGUST},
		Seed:          20240426,
	}
}

func memberID(i int) string { return fmt.Sprintf("p%02d", i) }

type track struct {
	y0, dy, speed, amp, width float64
}

// Generate returns one FieldMessage per (quantity, member, step).
func Generate(opts Options) []domain.FieldMessage {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	steps := opts.ForecastHours/opts.StepHours + 1
	g := opts.Grid

	tracks := make([]track, len(opts.Members))
	for m := range tracks {
		tracks[m] = track{
			y0:    float64(g.NY) * (0.35 + 0.3*rng.Float64()),
			dy:    (rng.Float64() - 0.5) * 0.3,
			speed: float64(g.NX) / float64(steps) * (0.7 + 0.6*rng.Float64()),
			amp:   0.6 + 0.8*rng.Float64(),
			width: 2.5 + 2*rng.Float64(),
		}
	}

	var msgs []domain.FieldMessage
	for _, q := range opts.Quantities {
		for m, id := range opts.Members {
			tr := tracks[m]
			var bucket []float64
			for s := range steps {
				fh := s * opts.StepHours
				msg := domain.FieldMessage{
					RunID:        opts.RunID,
					RunTime:      opts.RunTime,
					Quantity:     q,
					Member:       id,
					ForecastHour: fh,
					NY:           g.NY,
					NX:           g.NX,
				}
				switch q {
				case QPF:
					// mm per step, reported as a running total since the last
					// 6-hourly reset.
					inc := tr.blob(g, s, 12)
					if s == 0 || (fh-opts.StepHours)%BucketHours == 0 {
						bucket = g.NewPlane()
					}
					if s == 0 {
						clear(inc)
					}
					for i := range bucket {
						bucket[i] += inc[i]
					}
					msg.Units = "kg m**-2"
					msg.IntervalStart = bucketStart(fh)
					msg.IntervalEnd = fh
					msg.Values = append([]float64(nil), bucket...)
				case SNOD:
					// Depth in metres builds up behind the storm.
					depth := g.NewPlane()
					for k := 0; k <= s; k++ {
						b := tr.blob(g, k, 0.02)
						for i := range depth {
							depth[i] += b[i]
						}
					}
					msg.Units = "m"
					msg.Values = depth
				case WSPD, WGUST:
					peak := 14.0
					if q == WGUST {
						peak = 22
					}
					w := tr.blob(g, s, peak)
					for i := range w {
						w[i] += 3
					}
					msg.Units = "m s**-1"
					msg.Values = w
				default:
					continue
				}
				msgs = append(msgs, msg)
			}
		}
	}

	if opts.Shuffle {
		rng.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })
	} else {
		// Step-major, keeping quantity and member order within an hour, the
		// way the decoder publishes.
		slices.SortStableFunc(msgs, func(a, b domain.FieldMessage) int {
			return cmp.Compare(a.ForecastHour, b.ForecastHour)
		})
	}
	return msgs
}

func bucketStart(fh int) int {
	if fh == 0 {
		return 0
	}
	return (fh - 1) / BucketHours * BucketHours
}

// blob is the member's storm at step s scaled to peak.
func (tr track) blob(g ensemble.Grid, s int, peak float64) []float64 {
	out := g.NewPlane()
	cx := tr.speed * float64(s)
	cy := tr.y0 + tr.dy*float64(s)
	w2 := 2 * tr.width * tr.width
	for j := range g.NY {
		for i := range g.NX {
			dx, dy := float64(i)-cx, float64(j)-cy
			out[g.Index(j, i)] = peak * tr.amp * math.Exp(-(dx*dx+dy*dy)/w2)
		}
	}
	return out
}
