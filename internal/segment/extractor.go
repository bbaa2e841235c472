// Package segment assembles the audio samples of one time window from the
// catalog entries that overlap it.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mbari-org/pbp-sub000/internal/audio"
	"github.com/mbari-org/pbp-sub000/internal/catalog"
	"github.com/mbari-org/pbp-sub000/internal/source"
)

var (
	// ErrParameterMismatch is returned when a file's sample rate, channel
	// count or encoding differs from the one established for the day.
	ErrParameterMismatch = errors.New("segment: audio parameter mismatch")
	// ErrNoData is returned when no overlapping entry produced samples.
	ErrNoData = errors.New("segment: no data for window")
)

// Sources looks up open audio sources by URI.
type Sources interface {
	Get(ctx context.Context, uri string) (*source.Handle, error)
}

var _ Sources = (*source.Cache)(nil)

// Result is the audio for one window.
type Result struct {
	Info    audio.Info
	Samples []float64
	// Matches is the number of entries that contributed samples.
	Matches int
}

// Extractor cuts windows out of a day's recordings. It remembers the audio
// parameters of the first file it reads and rejects files that differ.
type Extractor struct {
	entries     []catalog.Entry
	sources     Sources
	windowSecs  int
	excludeSecs float64
	logger      *slog.Logger

	info *audio.Info
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithExcludeToneCalibration drops the first secs seconds of every file,
// where some recorders emit a calibration tone.
func WithExcludeToneCalibration(secs float64) Option {
	return func(e *Extractor) {
		e.excludeSecs = secs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an Extractor over the day's catalog entries.
func NewExtractor(entries []catalog.Entry, sources Sources, windowSecs int, opts ...Option) *Extractor {
	e := &Extractor{
		entries:    entries,
		sources:    sources,
		windowSecs: windowSecs,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Info returns the audio parameters established for the day, if any file
// has been read.
func (e *Extractor) Info() (audio.Info, bool) {
	if e.info == nil {
		return audio.Info{}, false
	}
	return *e.info, true
}

// Extract returns the samples of the window starting at windowStart,
// concatenated in catalog order.
func (e *Extractor) Extract(ctx context.Context, windowStart time.Time) (Result, error) {
	logger := e.logger.With(slog.String("window", windowStart.UTC().Format("15:04:05")))

	var (
		samples []float64
		matches int
	)
	for _, m := range catalog.Intersect(logger, e.entries, windowStart, e.windowSecs) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if m.DurationSecs == 0 {
			logger.Warn("no data from intersection", slog.String("uri", m.Entry.URI))
			continue
		}

		h, err := e.sources.Get(ctx, m.Entry.URI)
		if err != nil {
			return Result{}, err
		}

		info := h.Stream.Info()
		if err := e.checkInfo(logger, info); err != nil {
			return Result{}, fmt.Errorf("%s: %w", m.Entry.URI, err)
		}

		offset := float64(m.StartOffsetSecs)
		duration := float64(m.DurationSecs)
		if e.excludeSecs > 0 && offset < e.excludeSecs {
			if e.excludeSecs > m.Entry.DurationSecs {
				logger.Warn("tone calibration exclusion exceeds file duration, skipping",
					slog.String("uri", m.Entry.URI),
					slog.Float64("exclude_secs", e.excludeSecs),
					slog.Float64("duration_secs", m.Entry.DurationSecs),
				)
				continue
			}
			cut := e.excludeSecs - offset
			offset = e.excludeSecs
			duration -= cut
			if duration <= 0 {
				continue
			}
		}

		sr := float64(info.SampleRate)
		start := int64(math.Floor(offset * sr))
		count := int(math.Ceil(duration * sr))

		logger.Debug("reading segment",
			slog.String("uri", m.Entry.URI),
			slog.String("path", h.Local.Path),
			slog.Float64("offset_secs", offset),
			slog.Float64("duration_secs", duration),
		)

		data, err := e.read(logger, h, start, count)
		if err != nil {
			return Result{}, err
		}
		if len(data) > 0 {
			samples = append(samples, data...)
			matches++
		}
	}

	if len(samples) == 0 || e.info == nil {
		return Result{}, ErrNoData
	}
	return Result{Info: *e.info, Samples: samples, Matches: matches}, nil
}

func (e *Extractor) read(logger *slog.Logger, h *source.Handle, start int64, count int) ([]float64, error) {
	pos, err := h.Stream.Seek(start)
	if err != nil || pos != start {
		attrs := []any{
			slog.String("uri", h.URI),
			slog.Int64("start_sample", start),
			slog.Int64("position", pos),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.Warn("cannot seek to segment start, no data read", attrs...)
		return nil, nil
	}

	data, err := h.Stream.Read(count)
	if err != nil {
		logger.Error("reading audio", slog.String("uri", h.URI), slog.String("error", err.Error()))
		return nil, fmt.Errorf("read %s: %w", h.URI, err)
	}
	if len(data) < count {
		logger.Warn("partial data",
			slog.String("uri", h.URI),
			slog.Int("got", len(data)),
			slog.Int("want", count),
		)
	}
	return data, nil
}

func (e *Extractor) checkInfo(logger *slog.Logger, info audio.Info) error {
	if e.info == nil {
		e.info = &info
		return nil
	}

	want := *e.info
	switch {
	case want.SampleRate != info.SampleRate:
		logger.Error("unexpected sample rate mismatch",
			slog.Int("want", want.SampleRate), slog.Int("got", info.SampleRate))
		return fmt.Errorf("%w: sample rate %d vs %d", ErrParameterMismatch, info.SampleRate, want.SampleRate)
	case want.Channels != info.Channels:
		logger.Error("unexpected channel count mismatch",
			slog.Int("want", want.Channels), slog.Int("got", info.Channels))
		return fmt.Errorf("%w: channels %d vs %d", ErrParameterMismatch, info.Channels, want.Channels)
	case want.Subtype != info.Subtype:
		logger.Error("unexpected subtype mismatch",
			slog.String("want", want.Subtype), slog.String("got", info.Subtype))
		return fmt.Errorf("%w: subtype %s vs %s", ErrParameterMismatch, info.Subtype, want.Subtype)
	}
	return nil
}
