package domain

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Conversion factors used for US-facing products.
const (
	MillimetersToInches = 0.0393701
	MetersToInches      = 39.3701
	MetersPerSecToKnots = 1.94384
)

var unitFactors = map[[2]string]float64{
	{"mm", "in"}:       MillimetersToInches,
	{"kg m**-2", "in"}: MillimetersToInches, // liquid water, 1 kg/m² is 1 mm
	{"m", "in"}:        MetersToInches,
	{"m s**-1", "kt"}:  MetersPerSecToKnots,
	{"m/s", "kt"}:      MetersPerSecToKnots,
}

// ConvertUnits rescales values in place from one unit to another. Identical
// units are a no-op; an unknown pair is an error.
func ConvertUnits(values []float64, from, to string) error {
	if from == to {
		return nil
	}
	f, ok := unitFactors[[2]string{from, to}]
	if !ok {
		return fmt.Errorf("no conversion from %q to %q", from, to)
	}
	floats.Scale(f, values)
	return nil
}
