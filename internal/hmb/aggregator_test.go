package hmb

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbari-org/pbp-sub000/internal/spectral"
)

var t0 = time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)

func minute(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }

func sine(fs, freq, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/fs)
	}
	return out
}

func noise(n int, seed uint64) []float64 {
	out := make([]float64, n)
	x := seed
	for i := range out {
		x = x*6364136223846793005 + 1442695040888963407
		out[i] = float64(int64(x>>11))/float64(1<<52) - 1
	}
	return out
}

func bitsEqual(t *testing.T, want, got [][]float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Len(t, got[i], len(want[i]))
		for j := range want[i] {
			if math.Float32bits(want[i][j]) != math.Float32bits(got[i][j]) {
				t.Fatalf("row %d band %d: %v != %v", i, j, want[i][j], got[i][j])
			}
		}
	}
}

func TestAggregator_Preconditions(t *testing.T) {
	t.Run("segment before parameters", func(t *testing.T) {
		a := New(nil)
		err := a.AddSegment(minute(0), make([]float64, 100))
		assert.ErrorIs(t, err, ErrNotParameterized)
	})

	tests := []struct {
		name string
		fs   int
		opts []ParamOption
	}{
		{"zero sample rate", 0, nil},
		{"negative FFT size", 1000, []ParamOption{WithFFTSize(-1)}},
		{"inverted subset", 1000, []ParamOption{WithSubset(400, 100)}},
		{"empty subset", 1000, []ParamOption{WithSubset(100, 100)}},
		{"negative subset", 1000, []ParamOption{WithSubset(-10, 100)}},
		{"NaN subset", 1000, []ParamOption{WithSubset(math.NaN(), 100)}},
		{"subset above Nyquist", 1000, []ParamOption{WithSubset(600, 900)}},
		{"short curve", 1000, []ParamOption{WithSensitivity(&spectral.Curve{
			Frequencies: []float64{10}, Values: []float64{-170},
		})}},
		{"unsorted curve", 1000, []ParamOption{WithSensitivity(&spectral.Curve{
			Frequencies: []float64{100, 10}, Values: []float64{-170, -171},
		})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(nil)
			err := a.SetParameters(tt.fs, tt.opts...)
			assert.ErrorIs(t, err, ErrBandingPrecondition)
			assert.Equal(t, PhaseUninitialized, a.Phase())
		})
	}
}

func TestAggregator_SetParametersTwice(t *testing.T) {
	a := New(nil)
	require.NoError(t, a.SetParameters(2000))
	assert.NoError(t, a.SetParameters(2000))

	err := a.SetParameters(4000)
	assert.True(t, errors.Is(err, ErrSampleRateChanged))
	assert.Equal(t, 2000, a.SampleRate())
}

func TestAggregator_NoDataForDay(t *testing.T) {
	a := New(nil)
	_, err := a.ProcessCapturedSegments()
	assert.ErrorIs(t, err, ErrNoDataForDay)

	a.AddMissingSegment(minute(0))
	a.AddMissingSegment(minute(1))
	_, err = a.ProcessCapturedSegments()
	assert.ErrorIs(t, err, ErrNoDataForDay)
}

func TestAggregator_PresentMissingPresent(t *testing.T) {
	const fs = 2000
	a := New(nil)
	require.NoError(t, a.SetParameters(fs))

	require.NoError(t, a.AddSegment(minute(0), noise(60*fs, 1)))
	a.AddMissingSegment(minute(1))
	require.NoError(t, a.AddSegment(minute(2), noise(30*fs, 2)))

	res, err := a.ProcessCapturedSegments()
	require.NoError(t, err)
	assert.Equal(t, PhaseFinalized, a.Phase())

	assert.Equal(t, []time.Time{minute(0), minute(1), minute(2)}, res.Times)
	assert.Equal(t, []float32{60, 0, 30}, res.Effort)
	require.Len(t, res.PSD, 3)

	nbands := len(res.Frequencies)
	for _, row := range []int{0, 2} {
		require.Len(t, res.PSD[row], nbands)
		for j, v := range res.PSD[row] {
			require.False(t, math.IsNaN(float64(v)), "row %d band %d", row, j)
		}
	}
	for j, v := range res.PSD[1] {
		require.True(t, math.IsNaN(float64(v)), "missing row band %d = %v", j, v)
	}
	assert.Nil(t, res.Sensitivity)
}

func TestAggregator_Idempotent(t *testing.T) {
	const fs = 2000
	a := New(nil)
	a.AddMissingSegment(minute(0))
	require.NoError(t, a.SetParameters(fs))
	require.NoError(t, a.AddSegment(minute(1), noise(60*fs, 3)))

	first, err := a.ProcessCapturedSegments()
	require.NoError(t, err)
	second, err := a.ProcessCapturedSegments()
	require.NoError(t, err)

	assert.Same(t, first, second)
	bitsEqual(t, first.PSD, second.PSD)
}

func TestAggregator_AddAfterFinalizeReopens(t *testing.T) {
	const fs = 2000
	a := New(nil)
	require.NoError(t, a.SetParameters(fs))
	require.NoError(t, a.AddSegment(minute(0), noise(fs, 4)))

	res, err := a.ProcessCapturedSegments()
	require.NoError(t, err)
	require.Len(t, res.Times, 1)

	a.AddMissingSegment(minute(1))
	assert.Equal(t, PhaseParameterized, a.Phase())

	res, err = a.ProcessCapturedSegments()
	require.NoError(t, err)
	assert.Len(t, res.Times, 2)
}

func TestAggregator_RowsAreTimeOrdered(t *testing.T) {
	const fs = 2000
	a := New(nil)
	require.NoError(t, a.SetParameters(fs))
	require.NoError(t, a.AddSegment(minute(2), noise(fs, 5)))
	a.AddMissingSegment(minute(0))
	require.NoError(t, a.AddSegment(minute(1), noise(fs, 6)))

	res, err := a.ProcessCapturedSegments()
	require.NoError(t, err)
	assert.Equal(t, []time.Time{minute(0), minute(1), minute(2)}, res.Times)
	assert.Equal(t, []float32{0, 1, 1}, res.Effort)
}

// A 1 kHz sine at 256 kHz, preceded by a missing window, lands in the band
// around 1 kHz with its full power.
func TestAggregator_SineAt256kHz(t *testing.T) {
	const (
		fs  = 256000
		amp = 0.5
	)
	a := New(nil)
	a.AddMissingSegment(minute(0))
	require.NoError(t, a.SetParameters(fs))
	require.NoError(t, a.AddSegment(minute(1), sine(fs, 1000, amp, 2*fs)))

	res, err := a.ProcessCapturedSegments()
	require.NoError(t, err)

	assert.Equal(t, fs, res.FFTSize)
	assert.Len(t, res.Frequencies, 2905)
	require.Len(t, res.PSD, 2)

	for _, v := range res.PSD[0] {
		require.True(t, math.IsNaN(float64(v)))
	}

	row := res.PSD[1]
	peak := 0
	for j := range row {
		if row[j] > row[peak] {
			peak = j
		}
	}
	assert.InDelta(t, 1000, res.Frequencies[peak], 3)

	// Integrated band power around the tone equals the sine power A²/2.
	power := 0.0
	for j, c := range res.Bands.Centers {
		if c < 900 || c > 1100 {
			continue
		}
		width := res.Bands.Limits[j+1] - res.Bands.Limits[j]
		power += math.Pow(10, float64(row[j])/10) * width
	}
	assert.InEpsilon(t, amp*amp/2, power, 0.01)
}

func TestAggregator_Subset(t *testing.T) {
	const fs = 2000
	a := New(nil)
	require.NoError(t, a.SetParameters(fs, WithSubset(10, 500)))
	require.NoError(t, a.AddSegment(minute(0), noise(fs, 7)))

	res, err := a.ProcessCapturedSegments()
	require.NoError(t, err)
	require.NotEmpty(t, res.Frequencies)
	for _, f := range res.Frequencies {
		assert.GreaterOrEqual(t, f, float32(10))
		assert.Less(t, f, float32(500))
	}
	assert.Len(t, res.PSD[0], len(res.Frequencies))
}

func TestAggregator_SensitivitySubtracted(t *testing.T) {
	const fs = 2000
	samples := noise(10*fs, 8)

	plain := New(nil)
	require.NoError(t, plain.SetParameters(fs))
	require.NoError(t, plain.AddSegment(minute(0), samples))
	want, err := plain.ProcessCapturedSegments()
	require.NoError(t, err)

	curve := &spectral.Curve{
		Frequencies: []float64{0, 500, 1000},
		Values:      []float64{-3, -3, -3},
	}
	cal := New(nil)
	require.NoError(t, cal.SetParameters(fs, WithSensitivity(curve)))
	require.NoError(t, cal.AddSegment(minute(0), samples))
	got, err := cal.ProcessCapturedSegments()
	require.NoError(t, err)

	require.Len(t, got.Sensitivity, len(got.Frequencies))
	for j := range want.PSD[0] {
		assert.InDelta(t, want.PSD[0][j]+3, got.PSD[0][j], 1e-3, "band %d", j)
		assert.Equal(t, float32(-3), got.Sensitivity[j])
	}
}

func TestAggregator_PartialCurveYieldsNaN(t *testing.T) {
	const fs = 2000
	curve := &spectral.Curve{
		Frequencies: []float64{100, 200},
		Values:      []float64{-170, -170},
	}
	a := New(nil)
	require.NoError(t, a.SetParameters(fs, WithSensitivity(curve)))
	require.NoError(t, a.AddSegment(minute(0), noise(fs, 9)))

	res, err := a.ProcessCapturedSegments()
	require.NoError(t, err)
	for j, f := range res.Bands.Centers {
		v := float64(res.PSD[0][j])
		if f < 100 || f > 200 {
			assert.True(t, math.IsNaN(v), "band %v Hz", f)
		} else {
			assert.False(t, math.IsNaN(v), "band %v Hz", f)
		}
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "uninitialized", PhaseUninitialized.String())
	assert.Equal(t, "finalized", PhaseFinalized.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
}
