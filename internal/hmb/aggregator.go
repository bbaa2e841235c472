// Package hmb aggregates a day of window spectra into hybrid millidecade
// band levels.
//
// The typical sequence is: AddMissingSegment for any leading windows without
// audio, SetParameters once the first window's sample rate is known, then
// AddSegment or AddMissingSegment for each remaining window, and finally
// ProcessCapturedSegments.
package hmb

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/mbari-org/pbp-sub000/internal/spectral"
)

var (
	// ErrSampleRateChanged is returned when SetParameters is called again
	// with a different sample rate.
	ErrSampleRateChanged = errors.New("hmb: sample rate changed")
	// ErrNoDataForDay is returned when finalizing a day without any present
	// segment.
	ErrNoDataForDay = errors.New("hmb: no data for day")
	// ErrBandingPrecondition is returned for malformed band, subset or
	// sensitivity parameters.
	ErrBandingPrecondition = errors.New("hmb: banding precondition failed")
	// ErrNotParameterized is returned when a segment is added before
	// SetParameters.
	ErrNotParameterized = errors.New("hmb: parameters not set")
)

// Phase is the aggregator's lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseParameterized
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseParameterized:
		return "parameterized"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type params struct {
	nfft        int
	subset      bool
	lo, hi      float64
	sensitivity *spectral.Curve
}

// ParamOption configures SetParameters.
type ParamOption func(*params)

// WithFFTSize sets the FFT length. The default is one second of samples.
func WithFFTSize(n int) ParamOption {
	return func(p *params) {
		p.nfft = n
	}
}

// WithSubset keeps only the bands whose centers lie in [lo, hi).
func WithSubset(lo, hi float64) ParamOption {
	return func(p *params) {
		p.subset = true
		p.lo, p.hi = lo, hi
	}
}

// WithSensitivity subtracts the curve, interpolated at the band centers,
// from the band levels.
func WithSensitivity(c *spectral.Curve) ParamOption {
	return func(p *params) {
		p.sensitivity = c
	}
}

// Result is the finalized day. Rows of PSD follow Times.
type Result struct {
	SampleRate int
	FFTSize    int
	Times      []time.Time
	// Effort is the number of seconds of audio behind each row.
	Effort      []float32
	Frequencies []float32
	Bands       spectral.BandSpec
	// PSD is in dB re 1 unit²/Hz, NaN for missing windows.
	PSD [][]float32
	// Sensitivity is the subtracted curve at each band center, nil when no
	// curve was given.
	Sensitivity []float32
}

// Aggregator collects window spectra for one day. It is not safe for
// concurrent use.
type Aggregator struct {
	logger *slog.Logger

	phase       Phase
	fs          int
	nfft        int
	bands       spectral.BandSpec
	sensitivity *spectral.Curve
	est         *spectral.Estimator

	segments   []Segment
	numPresent int
	result     *Result
}

// New creates an Aggregator in PhaseUninitialized.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Phase returns the current phase.
func (a *Aggregator) Phase() Phase { return a.phase }

// SampleRate returns the sample rate set by SetParameters, or 0.
func (a *Aggregator) SampleRate() int { return a.fs }

// NumPresent returns the number of present segments captured so far.
func (a *Aggregator) NumPresent() int { return a.numPresent }

// SetParameters fixes the sample rate and computes the band layout over
// [0, sampleRate/2]. Calling it again with the same sample rate is a no-op.
func (a *Aggregator) SetParameters(sampleRate int, opts ...ParamOption) error {
	if a.phase != PhaseUninitialized {
		if sampleRate != a.fs {
			return fmt.Errorf("%w: %d Hz, established %d Hz", ErrSampleRateChanged, sampleRate, a.fs)
		}
		return nil
	}
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrBandingPrecondition, sampleRate)
	}

	p := params{nfft: sampleRate}
	for _, opt := range opts {
		opt(&p)
	}
	if p.nfft <= 0 {
		return fmt.Errorf("%w: FFT size %d", ErrBandingPrecondition, p.nfft)
	}
	if p.subset {
		if !finite(p.lo) || !finite(p.hi) || p.lo < 0 || p.lo >= p.hi {
			return fmt.Errorf("%w: subset [%v, %v)", ErrBandingPrecondition, p.lo, p.hi)
		}
	}
	if p.sensitivity != nil {
		if err := p.sensitivity.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrBandingPrecondition, err)
		}
	}

	fs := float64(sampleRate)
	bands, err := spectral.HybridMillidecadeLimits(0, fs/2, p.nfft, fs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBandingPrecondition, err)
	}
	if p.subset {
		bands = spectral.AdjustLimits(bands, p.lo, p.hi)
		if bands.Len() == 0 {
			return fmt.Errorf("%w: subset [%v, %v) selects no bands", ErrBandingPrecondition, p.lo, p.hi)
		}
	}

	est, err := spectral.NewEstimator(fs, p.nfft)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBandingPrecondition, err)
	}

	a.fs = sampleRate
	a.nfft = p.nfft
	a.bands = bands
	a.sensitivity = p.sensitivity
	a.est = est
	a.phase = PhaseParameterized

	a.logger.Info("banding parameters set",
		slog.Int("sample_rate", sampleRate),
		slog.Int("nfft", p.nfft),
		slog.Int("bands", bands.Len()),
		slog.Float64("first_center", bands.Centers[0]),
		slog.Float64("last_center", bands.Centers[bands.Len()-1]),
	)
	return nil
}

// AddSegment computes the spectrum of one window of samples and captures it.
func (a *Aggregator) AddSegment(t time.Time, samples []float64) error {
	if a.phase == PhaseUninitialized {
		return ErrNotParameterized
	}
	a.reopen()

	seconds := float64(len(samples)) / float64(a.fs)
	a.segments = append(a.segments, Present{
		Time:     t,
		Seconds:  seconds,
		Spectrum: a.est.PSD(samples),
	})
	a.numPresent++

	a.logger.Debug("captured segment",
		slog.Time("time", t),
		slog.Float64("seconds", seconds),
	)
	return nil
}

// AddMissingSegment captures a window without audio. It may be called in
// any phase.
func (a *Aggregator) AddMissingSegment(t time.Time) {
	a.reopen()
	a.segments = append(a.segments, Missing{Time: t})
	a.logger.Debug("captured segment", slog.Time("time", t), slog.Bool("missing", true))
}

// reopen discards a finalized result so that the next
// ProcessCapturedSegments includes newly captured segments.
func (a *Aggregator) reopen() {
	if a.phase == PhaseFinalized {
		a.phase = PhaseParameterized
		a.result = nil
	}
}

// ProcessCapturedSegments bands every captured segment in time order and
// returns the day's result. Missing segments become NaN rows. Repeated calls
// without new segments return the same result.
func (a *Aggregator) ProcessCapturedSegments() (*Result, error) {
	if a.result != nil {
		return a.result, nil
	}
	if a.numPresent == 0 {
		return nil, ErrNoDataForDay
	}

	segments := slices.Clone(a.segments)
	slices.SortStableFunc(segments, func(x, y Segment) int {
		return x.Start().Compare(y.Start())
	})

	var sens []float64
	if a.sensitivity != nil {
		var err error
		if sens, err = a.sensitivity.At(a.bands.Centers); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBandingPrecondition, err)
		}
	}

	fbw := a.est.BinWidth()
	nan := a.est.NaNSpectrum()
	res := &Result{
		SampleRate:  a.fs,
		FFTSize:     a.nfft,
		Times:       make([]time.Time, len(segments)),
		Effort:      make([]float32, len(segments)),
		Frequencies: toFloat32(a.bands.Centers),
		Bands:       a.bands,
		PSD:         make([][]float32, len(segments)),
	}
	if sens != nil {
		res.Sensitivity = toFloat32(sens)
	}

	for i, seg := range segments {
		spectrum := nan
		switch s := seg.(type) {
		case Present:
			spectrum = s.Spectrum
			res.Effort[i] = float32(s.Seconds)
		case Missing:
		}
		res.Times[i] = seg.Start()

		levels, err := spectral.ToBands(spectrum, a.bands, fbw)
		if err != nil {
			return nil, fmt.Errorf("band segment %s: %w", seg.Start().Format(time.RFC3339), err)
		}
		spectral.ToDB(levels)
		for j := range levels {
			if sens != nil {
				levels[j] -= sens[j]
			}
		}
		res.PSD[i] = toFloat32(levels)
	}

	a.result = res
	a.phase = PhaseFinalized
	a.logger.Info("segments processed",
		slog.Int("segments", len(segments)),
		slog.Int("present", a.numPresent),
		slog.Int("bands", a.bands.Len()),
	)
	return res, nil
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
