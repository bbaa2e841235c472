package hmb

import "time"

// Segment is one captured window, either Present or Missing.
type Segment interface {
	// Start returns the window start time.
	Start() time.Time
	segment()
}

// Present is a window with audio. Spectrum is its linear Welch PSD.
type Present struct {
	Time     time.Time
	Seconds  float64
	Spectrum []float64
}

// Start implements Segment.
func (p Present) Start() time.Time { return p.Time }
func (Present) segment() {}

// Missing is a window without usable audio.
type Missing struct {
	Time time.Time
}

// Start implements Segment.
func (m Missing) Start() time.Time { return m.Time }
func (Missing) segment() {}
