package spectral

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Estimator computes Welch power spectral densities for a fixed sample rate
// and FFT size. It reuses its FFT plan and window across calls and is not
// safe for concurrent use.
type Estimator struct {
	fs     float64
	nfft   int
	fft    *fourier.FFT
	window window.Values
	scale  float64
	seg    []float64
	coeff  []complex128
}

// NewEstimator creates an estimator using a periodic Hann window,
// 50% overlap and density scaling.
func NewEstimator(fs float64, nfft int) (*Estimator, error) {
	if nfft <= 0 || fs <= 0 {
		return nil, ErrInvalidFFTSize
	}
	// Periodic Hann: the symmetric window of length n+1 without its last point.
	w := window.NewValues(window.Hann, nfft+1)[:nfft]
	sumSq := floats.Dot(w, w)

	return &Estimator{
		fs:     fs,
		nfft:   nfft,
		fft:    fourier.NewFFT(nfft),
		window: w,
		scale:  1 / (fs * sumSq),
		seg:    make([]float64, nfft),
		coeff:  make([]complex128, nfft/2+1),
	}, nil
}

// Bins returns the number of one-sided frequency bins, nfft/2+1.
func (e *Estimator) Bins() int { return e.nfft/2 + 1 }

// BinWidth returns fs/nfft.
func (e *Estimator) BinWidth() float64 { return e.fs / float64(e.nfft) }

// Frequencies returns the bin center frequencies k*fs/nfft.
func (e *Estimator) Frequencies() []float64 {
	freqs := make([]float64, e.Bins())
	for k := range freqs {
		freqs[k] = float64(k) * e.fs / float64(e.nfft)
	}
	return freqs
}

// PSD returns the one-sided power spectral density of samples in linear
// units. Samples shorter than the FFT size are zero-padded. Segments
// overlap by half the FFT size, are not detrended, and are averaged.
func (e *Estimator) PSD(samples []float64) []float64 {
	if len(samples) < e.nfft {
		padded := make([]float64, e.nfft)
		copy(padded, samples)
		samples = padded
	}

	noverlap := e.nfft / 2
	step := e.nfft - noverlap
	nseg := (len(samples) - noverlap) / step

	psd := make([]float64, e.Bins())
	for s := 0; s < nseg; s++ {
		start := s * step
		e.window.TransformTo(e.seg, samples[start:start+e.nfft])
		e.fft.Coefficients(e.coeff, e.seg)
		for k, c := range e.coeff {
			re, im := real(c), imag(c)
			psd[k] += re*re + im*im
		}
	}

	lastDoubled := len(psd)
	if e.nfft%2 == 0 {
		lastDoubled--
	}
	norm := e.scale / float64(nseg)
	for k := range psd {
		psd[k] *= norm
		if k > 0 && k < lastDoubled {
			psd[k] *= 2
		}
	}
	return psd
}

// NaNSpectrum returns a spectrum of the estimator's shape filled with NaN.
func (e *Estimator) NaNSpectrum() []float64 {
	s := make([]float64, e.Bins())
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
