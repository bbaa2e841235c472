package spectral

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// ErrInvalidCurve is returned when a sensitivity curve is malformed.
var ErrInvalidCurve = errors.New("spectral: invalid sensitivity curve")

// Curve is a per-frequency calibration curve in dB.
type Curve struct {
	Frequencies []float64
	Values      []float64
}

// Validate requires at least two points, matching lengths, finite values
// and strictly increasing frequencies.
func (c *Curve) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidCurve)
	}
	if len(c.Frequencies) != len(c.Values) {
		return fmt.Errorf("%w: %d frequencies for %d values", ErrInvalidCurve, len(c.Frequencies), len(c.Values))
	}
	if len(c.Frequencies) < 2 {
		return fmt.Errorf("%w: need at least 2 points", ErrInvalidCurve)
	}
	for i := range c.Frequencies {
		if math.IsNaN(c.Frequencies[i]) || math.IsInf(c.Frequencies[i], 0) ||
			math.IsNaN(c.Values[i]) || math.IsInf(c.Values[i], 0) {
			return fmt.Errorf("%w: non-finite point at index %d", ErrInvalidCurve, i)
		}
	}
	if !strictlyIncreasing(c.Frequencies) {
		return fmt.Errorf("%w: frequencies not strictly increasing", ErrInvalidCurve)
	}
	return nil
}

// At linearly interpolates the curve at each frequency. Frequencies outside
// the curve's range yield NaN.
func (c *Curve) At(freqs []float64) ([]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(c.Frequencies, c.Values); err != nil {
		return nil, fmt.Errorf("fit curve: %w", err)
	}

	lo, hi := c.Frequencies[0], c.Frequencies[len(c.Frequencies)-1]
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		if f < lo || f > hi || math.IsNaN(f) {
			out[i] = math.NaN()
			continue
		}
		out[i] = pl.Predict(f)
	}
	return out, nil
}
