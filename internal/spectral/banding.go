package spectral

import (
	"fmt"
	"math"
)

// ToBands aggregates a one-sided linear PSD (bins k*fbw, k >= 0) into the
// bands of spec and returns the per-band spectral density in linear units.
//
// Bins entirely inside a band are summed. A bin straddling a band edge is
// split by the fraction of its width on each side. The band total is divided
// by the bandwidth. NaN input bins propagate to the affected bands.
func ToBands(psd []float64, spec BandSpec, fbw float64) ([]float64, error) {
	if len(spec.Limits) != len(spec.Centers)+1 {
		return nil, fmt.Errorf("%w: %d limits for %d centers", ErrInvalidBandSpec, len(spec.Limits), len(spec.Centers))
	}
	if len(psd) == 0 || fbw <= 0 {
		return nil, ErrInvalidFFTSize
	}

	maxIndex := len(psd) - 1
	idx := make([]int, len(spec.Limits))
	for i, limit := range spec.Limits {
		k := int(math.Floor((limit + fbw/2) / fbw))
		idx[i] = min(max(k, 0), maxIndex)
	}

	bands := make([]float64, len(spec.Centers))
	for j := range bands {
		lower, upper := idx[j], idx[j+1]
		lowerFreq, upperFreq := spec.Limits[j], spec.Limits[j+1]

		sum := 0.0
		for k := lower + 1; k < upper; k++ {
			sum += psd[k]
		}
		lowerFactor := float64(lower)*fbw + fbw/2 - lowerFreq
		upperFactor := upperFreq - (float64(upper)*fbw - fbw/2)
		sum += psd[lower] * lowerFactor / fbw
		sum += psd[upper] * upperFactor / fbw

		bands[j] = sum / (upperFreq - lowerFreq)
	}
	return bands, nil
}

// ToDB converts linear values to decibels in place and returns them.
func ToDB(values []float64) []float64 {
	for i, v := range values {
		values[i] = 10 * math.Log10(v)
	}
	return values
}
