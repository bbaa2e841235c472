package spectral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybridMillidecadeLimits_Golden(t *testing.T) {
	tests := []struct {
		name        string
		lo, hi      float64
		nfft        int
		fs          float64
		wantBands   int
		firstCenter float64
		firstLimit  float64
		lastCenters []float64
		lastLimits  []float64
		probe       int
		probeCenter float64
		probeLimit  float64
		// fs/2 on an exact decade edge makes the final band depend on the last
		// ulp of the center computation, so only the head is pinned.
		decadeEdge bool
	}{
		{
			name: "fs 2000 nfft 2048 band 10-1000",
			lo:   10, hi: 1000, nfft: 2048, fs: 2000,
			wantBands:   797,
			firstCenter: 10.7421875,
			firstLimit:  10.25390625,
			lastCenters: []float64{996.5520801347684, 998.8493699365049, 1000},
			lastLimits:  []float64{997.7000638225531, 999.9999999999994, 1000},
			// First logarithmic band after 423 linear ones.
			probe: 423, probeCenter: 424.13098391048806, probeLimit: 423.64296604954103,
			decadeEdge: true,
		},
		{
			name: "fs 48000 one hertz bins",
			lo:   0, hi: 24000, nfft: 48000, fs: 48000,
			wantBands:   2178,
			firstCenter: 0,
			firstLimit:  -0.5,
			lastCenters: []float64{23905.619353446305, 23960.727497455657, 24000},
			lastLimits:  []float64{23933.157564053876, 23988.329190194883, 24000},
			probe:       435, probeCenter: 435.01076063069695, probeLimit: 434.5102241715715,
		},
		{
			name: "fs 256000 one hertz bins",
			lo:   0, hi: 128000, nfft: 256000, fs: 256000,
			wantBands:   2905,
			firstCenter: 0,
			firstLimit:  -0.5,
			lastCenters: []float64{127497.00999437136, 127790.92095662863, 128000},
			lastLimits:  []float64{127643.88088113425, 127938.13041575237, 128000},
			probe:       434, probeCenter: 434, probeLimit: 433.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := HybridMillidecadeLimits(tt.lo, tt.hi, tt.nfft, tt.fs)
			require.NoError(t, err)
			require.NoError(t, spec.Validate())

			assert.InDelta(t, tt.firstCenter, spec.Centers[0], 1e-9)
			assert.InDelta(t, tt.firstLimit, spec.Limits[0], 1e-9)
			assert.InDelta(t, tt.probeCenter, spec.Centers[tt.probe], 1e-9)
			assert.InDelta(t, tt.probeLimit, spec.Limits[tt.probe], 1e-9)

			if tt.decadeEdge {
				assert.InDelta(t, tt.wantBands, spec.Len(), 1)
				assert.Equal(t, tt.hi, spec.Limits[len(spec.Limits)-1])
				return
			}
			require.Equal(t, tt.wantBands, spec.Len())

			n := len(spec.Centers)
			for i, want := range tt.lastCenters {
				assert.InDelta(t, want, spec.Centers[n-3+i], 1e-7)
			}
			m := len(spec.Limits)
			for i, want := range tt.lastLimits {
				assert.InDelta(t, want, spec.Limits[m-3+i], 1e-7)
			}
		})
	}
}

func TestHybridMillidecadeLimits_Properties(t *testing.T) {
	cases := []struct {
		lo, hi float64
		nfft   int
		fs     float64
	}{
		{10, 1000, 2048, 2000},
		{10, 1000, 2000, 2000},
		{20, 8000, 16000, 16000},
		{100, 24000, 4096, 48000},
		{5, 64000, 128000, 128000},
	}
	for _, c := range cases {
		spec, err := HybridMillidecadeLimits(c.lo, c.hi, c.nfft, c.fs)
		require.NoError(t, err)
		require.NoError(t, spec.Validate(), "%+v", c)
		assert.Len(t, spec.Limits, len(spec.Centers)+1)
		// A first center landing exactly on lo puts its lower edge half a bin below.
		assert.GreaterOrEqual(t, spec.Centers[0], c.lo, "%+v", c)
		assert.GreaterOrEqual(t, spec.Limits[0], c.lo-c.fs/float64(c.nfft)/2, "%+v", c)
		assert.LessOrEqual(t, spec.Limits[len(spec.Limits)-1], c.hi, "%+v", c)
	}
}

func TestHybridMillidecadeLimits_Invalid(t *testing.T) {
	_, err := HybridMillidecadeLimits(0, 1000, 0, 2000)
	assert.ErrorIs(t, err, ErrInvalidFFTSize)

	_, err = HybridMillidecadeLimits(500, 100, 2000, 2000)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = HybridMillidecadeLimits(-1, 100, 2000, 2000)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestAdjustLimits(t *testing.T) {
	spec := BandSpec{
		Limits:  []float64{-0.5, 0.5, 1.5, 2.5, 3.5, 4.5},
		Centers: []float64{0, 1, 2, 3, 4},
	}

	t.Run("middle", func(t *testing.T) {
		got := AdjustLimits(spec, 1, 3)
		assert.Equal(t, []float64{1, 2}, got.Centers)
		assert.Equal(t, []float64{0.5, 1.5, 2.5}, got.Limits)
	})

	t.Run("open upper end", func(t *testing.T) {
		got := AdjustLimits(spec, 2.5, 100)
		assert.Equal(t, []float64{3, 4}, got.Centers)
		assert.Equal(t, []float64{2.5, 3.5, 4.5}, got.Limits)
	})

	t.Run("empty", func(t *testing.T) {
		got := AdjustLimits(spec, 10, 20)
		assert.Empty(t, got.Centers)
		assert.Error(t, got.Validate())
	})

	t.Run("does not alias input", func(t *testing.T) {
		got := AdjustLimits(spec, 0, 2)
		got.Centers[0] = 99
		assert.Equal(t, 0.0, spec.Centers[0])
	})
}

func TestBandSpec_Validate(t *testing.T) {
	assert.ErrorIs(t, BandSpec{}.Validate(), ErrInvalidBandSpec)
	assert.ErrorIs(t, BandSpec{Limits: []float64{0, 1}, Centers: []float64{0.5, 0.7}}.Validate(), ErrInvalidBandSpec)
	assert.ErrorIs(t, BandSpec{Limits: []float64{0, 2, 1}, Centers: []float64{0.5, 1.5}}.Validate(), ErrInvalidBandSpec)
	assert.NoError(t, BandSpec{Limits: []float64{0, 1, 2}, Centers: []float64{0.5, 1.5}}.Validate())
}
