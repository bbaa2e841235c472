// Package day runs the processing of one UTC day: it walks the day's window
// grid, extracts each window's audio, aggregates the spectra and persists
// the resulting product.
package day

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mbari-org/pbp-sub000/internal/audio"
	"github.com/mbari-org/pbp-sub000/internal/catalog"
	"github.com/mbari-org/pbp-sub000/internal/hmb"
	"github.com/mbari-org/pbp-sub000/internal/observe"
	"github.com/mbari-org/pbp-sub000/internal/product"
	"github.com/mbari-org/pbp-sub000/internal/segment"
	"github.com/mbari-org/pbp-sub000/internal/source"
	"github.com/mbari-org/pbp-sub000/internal/spectral"
)

// DefaultWindowSecs is the length of one time window.
const DefaultWindowSecs = 60

// Day outcomes recorded with the day duration metric.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Subset restricts the output to bands whose centers lie in [Lo, Hi).
type Subset struct {
	Lo, Hi float64
}

// Settings are the per-day processing parameters.
type Settings struct {
	// WindowSecs is the window length. Zero means DefaultWindowSecs.
	WindowSecs int
	// MaxSegments caps the number of windows processed when > 0.
	MaxSegments int
	// ExcludeToneCalibrationSecs drops the start of every file.
	ExcludeToneCalibrationSecs float64
	// VoltageMultiplier scales the samples when non-zero.
	VoltageMultiplier float64
	// SensitivityFlat, when set, scales the samples by 10^(v/20) and is
	// recorded as the product's sensitivity.
	SensitivityFlat *float64
	// Sensitivity is subtracted from the band levels.
	Sensitivity *spectral.Curve
	Subset      *Subset
	// AddQualityFlag attaches a quality flag matrix to the product.
	AddQualityFlag bool
	// MaxCacheAge is the source cache age limit. Zero means
	// source.DefaultMaxAge.
	MaxCacheAge int
	// RetainDownloads keeps downloaded audio files after use.
	RetainDownloads bool
}

// Result is a processed day.
type Result struct {
	Product *product.DayProduct
	// Files are the locations written by the sink.
	Files []string
}

// Orchestrator processes days. Each ProcessDay call builds its own source
// cache, extractor and aggregator, so calls for different days may run
// concurrently.
type Orchestrator struct {
	catalog  catalog.Provider
	resolver source.Resolver
	opener   audio.Opener
	sink     product.Sink
	settings Settings
	metadata *product.Metadata
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink persists each product. Without a sink products are only returned.
func WithSink(s product.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithMetadata sets the attribute metadata attached to products.
func WithMetadata(m *product.Metadata) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metadata = m
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(provider catalog.Provider, resolver source.Resolver, opener audio.Opener, settings Settings, opts ...Option) *Orchestrator {
	if settings.WindowSecs <= 0 {
		settings.WindowSecs = DefaultWindowSecs
	}
	if settings.MaxCacheAge <= 0 {
		settings.MaxCacheAge = source.DefaultMaxAge
	}
	o := &Orchestrator{
		catalog:  provider,
		resolver: resolver,
		opener:   opener,
		settings: settings,
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metadata == nil {
		o.metadata = product.NewMetadata(nil, nil, product.WithLogger(o.logger))
	}
	return o
}

// ProcessDay processes the UTC day of date.
//
// It returns an error wrapping catalog.ErrCatalogMissing when the day has no
// catalog and hmb.ErrNoDataForDay when no window had audio. A canceled
// context stops processing between windows and nothing is persisted.
func (o *Orchestrator) ProcessDay(ctx context.Context, date time.Time) (res *Result, err error) {
	began := time.Now()
	logger := o.logger.With(slog.String("date", date.UTC().Format("20060102")))
	defer func() {
		o.metrics.RecordDay(context.WithoutCancel(ctx), outcome(err), time.Since(began))
	}()

	entries, err := o.catalog.Entries(ctx, date)
	if err != nil {
		if catalog.IsMissing(err) {
			logger.Warn("no catalog for day", slog.String("error", err.Error()))
		}
		return nil, err
	}

	r := o.newRun(logger, entries)
	defer r.cache.DayCompleted(ctx)

	grid := catalog.DayGrid(date, o.settings.WindowSecs)
	if n := o.settings.MaxSegments; n > 0 && n < len(grid) {
		grid = grid[:n]
	}
	logger.Info("processing day",
		slog.Int("entries", len(entries)),
		slog.Int("windows", len(grid)),
	)

	for _, t := range grid {
		if err := ctx.Err(); err != nil {
			logger.Warn("day interrupted", slog.Time("window", t))
			return nil, err
		}
		if err := r.window(ctx, t); err != nil {
			return nil, err
		}
	}

	hres, err := r.agg.ProcessCapturedSegments()
	if err != nil {
		if errors.Is(err, hmb.ErrNoDataForDay) {
			logger.Warn("no audio for any window")
		}
		return nil, fmt.Errorf("day %s: %w", date.UTC().Format("20060102"), err)
	}
	logger.Info("day aggregated",
		slog.Int("present", r.present),
		slog.Int("missing", r.missing),
		slog.String("samples", humanize.Comma(r.samples)),
	)

	p := o.buildProduct(date, hres)
	res = &Result{Product: p}
	if o.sink != nil {
		if res.Files, err = o.sink.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("save day %s: %w", date.UTC().Format("20060102"), err)
		}
	}
	return res, nil
}

// run is the state of one day being processed.
type run struct {
	o      *Orchestrator
	logger *slog.Logger
	cache  *source.Cache
	ext    *segment.Extractor
	agg    *hmb.Aggregator

	present, missing int
	samples          int64
}

func (o *Orchestrator) newRun(logger *slog.Logger, entries []catalog.Entry) *run {
	cache := source.NewCache(o.resolver, o.opener,
		source.WithMaxAge(o.settings.MaxCacheAge),
		source.WithRetain(o.settings.RetainDownloads),
		source.WithLogger(logger),
		source.WithMetrics(o.metrics),
	)
	return &run{
		o:      o,
		logger: logger,
		cache:  cache,
		ext: segment.NewExtractor(entries, cache, o.settings.WindowSecs,
			segment.WithExcludeToneCalibration(o.settings.ExcludeToneCalibrationSecs),
			segment.WithLogger(logger),
		),
		agg: hmb.New(logger),
	}
}

func (r *run) window(ctx context.Context, t time.Time) error {
	seg, err := r.ext.Extract(ctx, t)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Debug("window missing", slog.Time("window", t), slog.String("error", err.Error()))
		r.addMissing(ctx, t)
		return nil
	}

	sr := seg.Info.SampleRate
	switch {
	case r.agg.Phase() == hmb.PhaseUninitialized:
		if err := r.agg.SetParameters(sr, r.o.paramOptions()...); err != nil {
			return err
		}
	case sr != r.agg.SampleRate():
		r.logger.Error("unexpected sample rate mismatch",
			slog.Time("window", t),
			slog.Int("want", r.agg.SampleRate()),
			slog.Int("got", sr),
		)
		r.addMissing(ctx, t)
		return nil
	}

	samples := r.o.scale(seg.Samples)
	if err := r.agg.AddSegment(t, samples); err != nil {
		return err
	}
	r.present++
	r.samples += int64(len(samples))
	r.o.metrics.RecordWindow(ctx, observe.WindowPresent)
	return nil
}

func (r *run) addMissing(ctx context.Context, t time.Time) {
	r.agg.AddMissingSegment(t)
	r.missing++
	r.o.metrics.RecordWindow(ctx, observe.WindowMissing)
}

func (o *Orchestrator) paramOptions() []hmb.ParamOption {
	var opts []hmb.ParamOption
	if s := o.settings.Subset; s != nil {
		opts = append(opts, hmb.WithSubset(s.Lo, s.Hi))
	}
	if o.settings.Sensitivity != nil {
		opts = append(opts, hmb.WithSensitivity(o.settings.Sensitivity))
	}
	return opts
}

// scale applies the voltage multiplier and the flat sensitivity in place.
func (o *Orchestrator) scale(samples []float64) []float64 {
	k := 1.0
	if v := o.settings.VoltageMultiplier; v != 0 {
		k *= v
	}
	if f := o.settings.SensitivityFlat; f != nil {
		k *= math.Pow(10, *f/20)
	}
	if k == 1 {
		return samples
	}
	for i := range samples {
		samples[i] *= k
	}
	return samples
}

func (o *Orchestrator) buildProduct(date time.Time, res *hmb.Result) *product.DayProduct {
	y, m, d := date.UTC().Date()
	p := &product.DayProduct{
		Date:        time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Times:       res.Times,
		Frequencies: res.Frequencies,
		PSD:         res.PSD,
		Effort:      res.Effort,
		Sensitivity: res.Sensitivity,
	}
	if p.Sensitivity == nil && o.settings.SensitivityFlat != nil {
		p.Sensitivity = []float32{float32(*o.settings.SensitivityFlat)}
	}
	if o.settings.AddQualityFlag {
		p.QualityFlag = product.NewQualityFlag(len(p.Times), len(p.Frequencies))
	}

	p.Global = o.metadata.Global(product.Coverage{
		Start:      p.Date,
		Resolution: time.Duration(o.settings.WindowSecs) * time.Second,
		Segments:   len(p.Times),
	})

	names := []string{product.VarTime, product.VarEffort, product.VarFrequency}
	if p.Sensitivity != nil {
		names = append(names, product.VarSensitivity)
	}
	if p.QualityFlag != nil {
		names = append(names, product.VarQualityFlag)
	}
	names = append(names, product.VarPSD)

	p.Variables = make(map[string]product.Attributes, len(names))
	for _, name := range names {
		if attrs := o.metadata.Variable(name); attrs != nil {
			p.Variables[name] = attrs
		}
	}
	return p
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case IsSkipped(err):
		return OutcomeSkipped
	default:
		return OutcomeFailed
	}
}

// IsSkipped reports whether err means the day has nothing to process rather
// than that processing failed.
func IsSkipped(err error) bool {
	return catalog.IsMissing(err) || errors.Is(err, hmb.ErrNoDataForDay)
}
