package products

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	require.Len(t, c.Quantities, 4)
	assert.Len(t, c.ProbabilityLevels, 20)
	assert.InDelta(t, 100.0, c.ProbabilityLevels[19], 0)

	qpf, ok := c.Quantity("qpf")
	require.True(t, ok)
	assert.Equal(t, KindBucket, qpf.Kind)
	assert.True(t, qpf.Kind.Windowed())
	var steps []int
	for _, w := range qpf.EnsembleWindows() {
		steps = append(steps, w.Steps)
	}
	assert.Equal(t, []int{1, 2, 4, 8, 16}, steps)

	snod, ok := c.Quantity("snod")
	require.True(t, ok)
	assert.False(t, snod.Kind.Windowed())
	require.NotNil(t, snod.Floor)
	assert.InDelta(t, 0.05, *snod.Floor, 0)

	_, ok = c.Quantity("tmp2m")
	assert.False(t, ok)
}

func TestLoadCatalog(t *testing.T) {
	t.Run("empty path uses embedded default", func(t *testing.T) {
		c, err := LoadCatalog("")
		require.NoError(t, err)
		assert.Len(t, c.Quantities, 4)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
probability_levels: [10, 50, 90]
quantities:
  - name: apcp
    kind: increment
    units: mm
    windows: [{ name: 06h, steps: 2 }]
    statistics: [mean]
`), 0o600))

		c, err := LoadCatalog(path)
		require.NoError(t, err)
		q, ok := c.Quantity("apcp")
		require.True(t, ok)
		assert.Equal(t, KindIncrement, q.Kind)
		assert.Equal(t, []Statistic{StatMean}, q.Statistics)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "quantities: [["},
		{"no quantities", "probability_levels: [50]"},
		{"levels not increasing", `
probability_levels: [50, 10]
quantities: [{ name: a, kind: state, statistics: [max] }]`},
		{"empty name", `quantities: [{ kind: state, statistics: [max] }]`},
		{"duplicate quantity", `
quantities:
  - { name: a, kind: state, statistics: [max] }
  - { name: a, kind: state, statistics: [mean] }`},
		{"unknown kind", `quantities: [{ name: a, kind: rate, statistics: [max] }]`},
		{"bucket without windows", `quantities: [{ name: a, kind: bucket, statistics: [max] }]`},
		{"state with windows", `quantities: [{ name: a, kind: state, windows: [{ name: 06h, steps: 2 }], statistics: [max] }]`},
		{"zero-step window", `quantities: [{ name: a, kind: increment, windows: [{ name: 00h, steps: 0 }], statistics: [max] }]`},
		{"duplicate window", `
quantities:
  - name: a
    kind: increment
    windows: [{ name: 06h, steps: 2 }, { name: 06h, steps: 2 }]
    statistics: [max]`},
		{"unknown statistic", `quantities: [{ name: a, kind: state, statistics: [median] }]`},
		{"prob as statistic", `quantities: [{ name: a, kind: state, statistics: [prob] }]`},
		{"nothing to compute", `quantities: [{ name: a, kind: state }]`},
		{"negative radius", `quantities: [{ name: a, kind: state, statistics: [lpmm], radius: -1 }]`},
		{"thresholds not increasing", `quantities: [{ name: a, kind: state, thresholds: [1, 1] }]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}
