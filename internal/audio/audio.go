// Package audio provides interfaces and implementations for reading
// sound files as normalized sample streams.
package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when a file is not a PCM WAV file
	// this package can decode.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
	// ErrSeekOutOfRange is returned when a seek targets a frame past the end
	// of the stream.
	ErrSeekOutOfRange = errors.New("audio: seek out of range")
)

// Info describes an opened sound file.
type Info struct {
	SampleRate int
	Channels   int
	// Subtype names the sample encoding, e.g. "PCM_16".
	Subtype string
}

// String implements fmt.Stringer.
func (i Info) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %s", i.SampleRate, i.Channels, i.Subtype)
}

// Stream is a seekable reader over the frames of one sound file.
//
// Samples are normalized to [-1, 1). Multichannel files are read from
// channel 0.
type Stream interface {
	Info() Info
	// Frames returns the total number of frames in the stream.
	Frames() int64
	// Seek positions the stream at the given frame and returns the new
	// position.
	Seek(frame int64) (int64, error)
	// Read returns up to n frames from the current position. Fewer frames
	// are returned at the end of the stream.
	Read(n int) ([]float64, error)
	Close() error
}

// Opener opens a local sound file as a Stream.
type Opener interface {
	Open(ctx context.Context, path string) (Stream, error)
}
