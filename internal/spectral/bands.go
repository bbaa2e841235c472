// Package spectral implements the numerical core of hybrid millidecade
// processing: Welch power spectral density estimation, the hybrid
// linear/logarithmic band layout, and aggregation of FFT bins into bands.
//
// Everything in this package is pure and free of I/O.
package spectral

import (
	"errors"
	"fmt"
	"math"
)

// Static errors for band layout and aggregation.
var (
	// ErrInvalidBandSpec is returned when limits and centers are inconsistent.
	ErrInvalidBandSpec = errors.New("spectral: invalid band spec")
	// ErrInvalidRange is returned for a malformed frequency range.
	ErrInvalidRange = errors.New("spectral: invalid frequency range")
	// ErrInvalidFFTSize is returned for a non-positive FFT size or sample rate.
	ErrInvalidFFTSize = errors.New("spectral: invalid FFT size or sample rate")
)

const (
	millidecadeBase   = 10.0
	bandsPerDivision  = 1000
	firstBinCenter    = 0.0
	crossoverSlackHz  = 0.1
	octaveRatioPow10  = 3.0 / 10.0
	bandsPerDivFactor = 0.3
)

var (
	lowSideMultiplier  = math.Pow(millidecadeBase, -1/(2.0*bandsPerDivision))
	highSideMultiplier = math.Pow(millidecadeBase, 1/(2.0*bandsPerDivision))
)

// BandSpec holds band edges and centers. Limits has one more element than
// Centers; band i spans [Limits[i], Limits[i+1]).
type BandSpec struct {
	Limits  []float64
	Centers []float64
}

// Len returns the number of bands.
func (b BandSpec) Len() int { return len(b.Centers) }

// Validate checks the length relation and strict monotonicity of both sequences.
func (b BandSpec) Validate() error {
	if len(b.Centers) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidBandSpec)
	}
	if len(b.Limits) != len(b.Centers)+1 {
		return fmt.Errorf("%w: %d limits for %d centers", ErrInvalidBandSpec, len(b.Limits), len(b.Centers))
	}
	if !strictlyIncreasing(b.Limits) {
		return fmt.Errorf("%w: limits not strictly increasing", ErrInvalidBandSpec)
	}
	if !strictlyIncreasing(b.Centers) {
		return fmt.Errorf("%w: centers not strictly increasing", ErrInvalidBandSpec)
	}
	return nil
}

// centerFreq is the center of millidecade band n.
func centerFreq(n int) float64 {
	b := bandsPerDivision * bandsPerDivFactor
	g := math.Pow(10, octaveRatioPow10)
	return millidecadeBase * math.Pow(g, float64(2*(n-1)+1)/(2*b))
}

// HybridMillidecadeLimits computes the hybrid millidecade layout for the
// range [lo, hi] given the FFT size and sample rate.
//
// Below the crossover, bands are one FFT bin wide and centered on the bins.
// Above it, bands are logarithmically spaced at 1000 per decade. The
// crossover is the first millidecade band wider than one FFT bin, then
// advanced while the log centers keep getting closer to the linear grid.
func HybridMillidecadeLimits(lo, hi float64, nfft int, fs float64) (BandSpec, error) {
	if nfft <= 0 || fs <= 0 {
		return BandSpec{}, ErrInvalidFFTSize
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo < 0 || hi <= lo {
		return BandSpec{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidRange, lo, hi)
	}

	fbw := fs / float64(nfft)
	var limits, centers []float64

	bandCount := 0
	center := 0.0
	width := 0.0
	for width < fbw {
		bandCount++
		center = centerFreq(bandCount)
		width = highSideMultiplier*center - lowSideMultiplier*center
	}

	center = centerFreq(bandCount)
	linearCount := int(math.RoundToEven(center/fbw - firstBinCenter))
	dc := math.Abs(float64(linearCount)*fbw-center) + crossoverSlackHz
	for math.Abs(float64(linearCount)*fbw-center) < dc {
		dc = math.Abs(float64(linearCount)*fbw - center)
		bandCount++
		linearCount++
		center = centerFreq(bandCount)
	}
	linearCount--
	bandCount--

	if fbw*float64(linearCount) > hi {
		linearCount = int(fs/2/fbw + 1)
	}

	fc := 0.0
	fcSet := false
	for i := 0; i < linearCount; i++ {
		fc = firstBinCenter + float64(i)*fbw
		fcSet = true
		if fc >= lo {
			centers = append(centers, fc)
			limits = append(limits, fc-fbw/2)
		}
	}

	upper := center * highSideMultiplier
	for upper < hi {
		fc = centerFreq(bandCount)
		fcSet = true
		upper = fc * highSideMultiplier
		if fc >= lo {
			centers = append(centers, fc)
			limits = append(limits, fc*lowSideMultiplier)
		}
		bandCount++
	}
	if upper > hi {
		upper = hi
		if fcSet && fc > hi && len(centers) > 0 {
			centers[len(centers)-1] = hi
		}
	}
	limits = append(limits, upper)

	return BandSpec{Limits: limits, Centers: centers}, nil
}

// AdjustLimits narrows spec to the bands whose centers lie in [lo, hi).
// The result keeps the contiguous run starting at the first center >= lo
// and ending before the first center >= hi.
func AdjustLimits(spec BandSpec, lo, hi float64) BandSpec {
	start := 0
	for start < len(spec.Centers) && spec.Centers[start] < lo {
		start++
	}
	end := start
	for end < len(spec.Centers) && spec.Centers[end] < hi {
		end++
	}

	centers := append([]float64(nil), spec.Centers[start:end]...)
	var limits []float64
	if len(centers) > 0 {
		limits = append([]float64(nil), spec.Limits[start:start+len(centers)+1]...)
	}
	return BandSpec{Limits: limits, Centers: centers}
}

func strictlyIncreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return false
		}
	}
	return true
}
