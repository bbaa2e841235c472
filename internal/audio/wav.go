package audio

import (
	"context"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// readChunkSamples bounds a single PCMBuffer call.
const readChunkSamples = 1 << 16

// WavOpener opens PCM WAV files.
type WavOpener struct{}

var _ Opener = WavOpener{}

// Open implements Opener.
func (WavOpener) Open(ctx context.Context, path string) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}
	return OpenWav(path)
}

// WavStream is a Stream over a PCM WAV file.
type WavStream struct {
	f   *os.File
	dec *wav.Decoder

	info           Info
	bytesPerSample int
	dataStart      int64
	frames         int64
	pos            int64

	buf     *goaudio.IntBuffer
	pending []int
}

var _ Stream = (*WavStream)(nil)

// OpenWav opens path and positions the stream at frame 0.
func OpenWav(path string) (*WavStream, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the catalog resolver
	if err != nil {
		return nil, fmt.Errorf("open sound file: %w", err)
	}

	s, err := newWavStream(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func newWavStream(f *os.File) (*WavStream, error) {
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if dec.NumChans < 1 || dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d, %d channels", ErrUnsupportedFormat, dec.WavAudioFormat, dec.NumChans)
	}

	var subtype string
	switch dec.BitDepth {
	case 8:
		subtype = "PCM_U8"
	case 16:
		subtype = "PCM_16"
	case 24:
		subtype = "PCM_24"
	case 32:
		subtype = "PCM_32"
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, dec.BitDepth)
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err := dec.Err(); err != nil || dec.PCMChunk == nil {
		return nil, fmt.Errorf("%w: no PCM data", ErrUnsupportedFormat)
	}

	dataStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locate PCM data: %w", err)
	}

	chans := int(dec.NumChans)
	bps := int(dec.BitDepth) / 8
	info := Info{SampleRate: int(dec.SampleRate), Channels: chans, Subtype: subtype}

	return &WavStream{
		f:              f,
		dec:            dec,
		info:           info,
		bytesPerSample: bps,
		dataStart:      dataStart,
		frames:         int64(dec.PCMSize / (chans * bps)),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: chans, SampleRate: info.SampleRate},
			SourceBitDepth: int(dec.BitDepth),
		},
	}, nil
}

// Info implements Stream.
func (s *WavStream) Info() Info { return s.info }

// Frames implements Stream.
func (s *WavStream) Frames() int64 { return s.frames }

// Seek implements Stream.
func (s *WavStream) Seek(frame int64) (int64, error) {
	if frame < 0 || frame > s.frames {
		return s.pos, fmt.Errorf("%w: frame %d of %d", ErrSeekOutOfRange, frame, s.frames)
	}

	off := frame * int64(s.info.Channels*s.bytesPerSample)
	if _, err := s.f.Seek(s.dataStart+off, io.SeekStart); err != nil {
		return s.pos, fmt.Errorf("seek: %w", err)
	}
	s.dec.PCMChunk.R = io.LimitReader(s.f, int64(s.dec.PCMSize)-off)
	s.pending = s.pending[:0]
	s.pos = frame
	return s.pos, nil
}

// Read implements Stream.
func (s *WavStream) Read(n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}

	chans := s.info.Channels
	out := make([]float64, 0, n)
	for len(out) < n {
		want := (n-len(out))*chans - len(s.pending)
		if want > readChunkSamples {
			want = readChunkSamples
		}
		if cap(s.buf.Data) < want {
			s.buf.Data = make([]int, want)
		}
		s.buf.Data = s.buf.Data[:want]

		got, err := s.dec.PCMBuffer(s.buf)
		if err != nil {
			s.pos += int64(len(out))
			return out, fmt.Errorf("read PCM: %w", err)
		}
		if got <= 0 {
			break
		}

		s.pending = append(s.pending, s.buf.Data[:got]...)
		complete := len(s.pending) / chans
		for i := 0; i < complete && len(out) < n; i++ {
			out = append(out, s.normalize(s.pending[i*chans]))
		}
		s.pending = append(s.pending[:0], s.pending[complete*chans:]...)
	}

	s.pos += int64(len(out))
	return out, nil
}

func (s *WavStream) normalize(v int) float64 {
	if s.bytesPerSample == 1 {
		return float64(v-128) / 128
	}
	return float64(v) / float64(int64(1)<<(8*s.bytesPerSample-1))
}

// Close implements Stream.
func (s *WavStream) Close() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close sound file: %w", err)
	}
	return nil
}
