package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV writes interleaved integer samples as a PCM WAV file.
func writeWAV(t *testing.T, path string, sampleRate, bitDepth, chans int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, chans, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: chans, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func ramp(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestOpenWav_Info(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeWAV(t, path, 16000, 16, 1, ramp(1000))

	s, err := OpenWav(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, Info{SampleRate: 16000, Channels: 1, Subtype: "PCM_16"}, s.Info())
	assert.Equal(t, int64(1000), s.Frames())
}

func TestWavStream_ReadNormalizes16Bit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "norm.wav")
	writeWAV(t, path, 8000, 16, 1, []int{0, 16384, -32768, 32767})

	s, err := OpenWav(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Read(4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 0.5, got[1])
	assert.Equal(t, -1.0, got[2])
	assert.InDelta(t, 1.0, got[3], 1e-4)
}

func TestWavStream_SeekAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.wav")
	writeWAV(t, path, 1000, 16, 1, ramp(500))

	s, err := OpenWav(path)
	require.NoError(t, err)
	defer s.Close()

	pos, err := s.Seek(200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), pos)

	got, err := s.Read(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, v := range got {
		assert.Equal(t, float64(200+i)/32768, v)
	}

	// Seeking backwards works after reading forward.
	_, err = s.Seek(10)
	require.NoError(t, err)
	got, err = s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, 10.0/32768, got[0])
}

func TestWavStream_ReadPastEndIsShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	writeWAV(t, path, 1000, 16, 1, ramp(100))

	s, err := OpenWav(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Seek(90)
	require.NoError(t, err)

	got, err := s.Read(50)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	got, err = s.Read(5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWavStream_SeekOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "range.wav")
	writeWAV(t, path, 1000, 16, 1, ramp(100))

	s, err := OpenWav(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Seek(101)
	assert.True(t, errors.Is(err, ErrSeekOutOfRange))

	_, err = s.Seek(-1)
	assert.True(t, errors.Is(err, ErrSeekOutOfRange))
}

func TestWavStream_MultichannelUsesFirstChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// channel 0 ramps up, channel 1 is constant
	var data []int
	for i := 0; i < 300; i++ {
		data = append(data, i, 1000)
	}
	writeWAV(t, path, 2000, 16, 2, data)

	s, err := OpenWav(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 2, s.Info().Channels)
	assert.Equal(t, int64(300), s.Frames())

	_, err = s.Seek(150)
	require.NoError(t, err)
	got, err := s.Read(4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, v := range got {
		assert.Equal(t, float64(150+i)/32768, v)
	}
}

func TestWavStream_BitDepths(t *testing.T) {
	tests := []struct {
		name    string
		bits    int
		sample  int
		subtype string
		want    float64
	}{
		{"unsigned 8 bit", 8, 192, "PCM_U8", 0.5},
		{"24 bit", 24, -4194304, "PCM_24", -0.5},
		{"32 bit", 32, 1 << 29, "PCM_32", 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "depth.wav")
			writeWAV(t, path, 1000, tt.bits, 1, []int{tt.sample, tt.sample})

			s, err := OpenWav(path)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, tt.subtype, s.Info().Subtype)
			got, err := s.Read(2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.InDelta(t, tt.want, got[0], 1e-9)
		})
	}
}

func TestOpenWav_NotWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("this is not a riff file at all"), 0o600))

	_, err := OpenWav(path)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)
}

func TestWavOpener_MissingFile(t *testing.T) {
	_, err := WavOpener{}.Open(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWavOpener_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WavOpener{}.Open(ctx, "whatever.wav")
	assert.ErrorIs(t, err, context.Canceled)
}
