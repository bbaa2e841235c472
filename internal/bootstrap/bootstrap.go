// Package bootstrap provides dependency initialization for the day
// processors.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/mbari-org/pbp-sub000/internal/audio"
	"github.com/mbari-org/pbp-sub000/internal/calibration"
	"github.com/mbari-org/pbp-sub000/internal/catalog"
	"github.com/mbari-org/pbp-sub000/internal/config"
	"github.com/mbari-org/pbp-sub000/internal/day"
	"github.com/mbari-org/pbp-sub000/internal/job"
	"github.com/mbari-org/pbp-sub000/internal/observe"
	"github.com/mbari-org/pbp-sub000/internal/product"
	"github.com/mbari-org/pbp-sub000/internal/spectral"
	"github.com/mbari-org/pbp-sub000/internal/storage"
)

// Dependencies holds all initialized dependencies for a run.
type Dependencies struct {
	Service      *job.Service
	Orchestrator *day.Orchestrator
	Resolver     *storage.Resolver

	closers []io.Closer
}

// Close releases cloud clients.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type options struct {
	version string
	metrics *observe.Metrics
	stores  map[string]storage.ObjectStore
}

// Option configures NewDependencies.
type Option func(*options)

// WithVersion sets the version recorded in the product metadata.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithObjectStore uses store for scheme instead of creating a cloud client.
func WithObjectStore(scheme string, store storage.ObjectStore) Option {
	return func(o *options) {
		o.stores[scheme] = store
	}
}

// NewDependencies creates and initializes all dependencies for the application.
// Remote documents (attributes, sensitivity) are loaded here so that a bad
// URI fails the run before any day is processed.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{
		version: "dev",
		metrics: observe.DefaultMetrics(),
		stores:  make(map[string]storage.ObjectStore),
	}
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{}

	// Initialize storage
	if err := initStores(ctx, cfg, &o, deps, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}
	resolver, err := initResolver(cfg, &o, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Resolver = resolver

	// Calibration and metadata
	sensitivity, err := loadSensitivity(ctx, cfg, resolver, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	metadata, err := loadMetadata(ctx, cfg, resolver, o.version, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	// Output
	sink, err := initSink(cfg, &o, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	provider := catalog.NewFileProvider(cfg.JSONBaseDir, resolver, storage.IsNotFound, logger)

	deps.Orchestrator = day.NewOrchestrator(
		provider,
		resolver,
		audio.WavOpener{},
		Settings(cfg, sensitivity),
		day.WithSink(sink),
		day.WithMetadata(metadata),
		day.WithMetrics(o.metrics),
		day.WithLogger(logger),
	)

	deps.Service = job.NewService(job.NewMemoryRepository(), deps.Orchestrator, logger)
	deps.Service.SetMaxConcurrentDays(cfg.Jobs)

	return deps, nil
}

// Settings maps cfg to the day processing settings.
func Settings(cfg *config.Config, sensitivity *spectral.Curve) day.Settings {
	s := day.Settings{
		WindowSecs:                 cfg.WindowSecs,
		MaxSegments:                cfg.MaxSegments,
		ExcludeToneCalibrationSecs: cfg.ExcludeToneCalibrationSecs,
		VoltageMultiplier:          cfg.VoltageMultiplier,
		SensitivityFlat:            cfg.SensitivityFlatValue,
		Sensitivity:                sensitivity,
		AddQualityFlag:             cfg.AddQualityFlag,
		RetainDownloads:            bool(cfg.RetainDownloadedFiles),
	}
	if cfg.SubsetTo != nil {
		s.Subset = &day.Subset{Lo: cfg.SubsetTo.Lo, Hi: cfg.SubsetTo.Hi}
	}
	return s
}

// initStores creates the cloud clients the configuration refers to.
func initStores(ctx context.Context, cfg *config.Config, o *options, deps *Dependencies, logger *slog.Logger) error {
	if _, ok := o.stores[storage.SchemeS3]; !ok && cfg.NeedsS3() {
		s3Cfg := storage.S3Config{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Anonymous:       cfg.S3Unsigned,
		}
		s3Store, err := storage.NewS3Store(ctx, s3Cfg)
		if err != nil {
			return fmt.Errorf("create S3 storage: %w", err)
		}
		o.stores[storage.SchemeS3] = s3Store
		logger.Info("S3 storage configured",
			slog.String("region", cfg.AWSRegion),
			slog.Bool("unsigned", cfg.S3Unsigned),
		)
	}

	if _, ok := o.stores[storage.SchemeGS]; !ok && cfg.NeedsGS() {
		gcsStore, err := storage.NewGCSStore(ctx, storage.GCSConfig{Anonymous: true})
		if err != nil {
			return fmt.Errorf("create GCS storage: %w", err)
		}
		o.stores[storage.SchemeGS] = gcsStore
		deps.closers = append(deps.closers, gcsStore)
		logger.Info("GCS storage configured")
	}
	return nil
}

func initResolver(cfg *config.Config, o *options, logger *slog.Logger) (*storage.Resolver, error) {
	downloads, err := storage.NewLocalStorage(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	pathMap, err := storage.ParsePrefixMap(cfg.AudioPathMapPrefix)
	if err != nil {
		return nil, fmt.Errorf("audio path map: %w", err)
	}

	resolverOpts := []storage.ResolverOption{
		storage.WithPrefixMap(pathMap),
		storage.WithPathPrefix(cfg.AudioPathPrefix),
		storage.WithBaseDir(cfg.AudioBaseDir),
		storage.WithAssumeDownloaded(bool(cfg.AssumeDownloadedFiles)),
		storage.WithLogger(logger),
	}
	for _, scheme := range slices.Sorted(maps.Keys(o.stores)) {
		resolverOpts = append(resolverOpts, storage.WithStore(scheme, o.stores[scheme]))
	}

	logger.Info("local storage configured",
		slog.String("download_dir", downloads.Dir()),
	)
	return storage.NewResolver(downloads, resolverOpts...), nil
}

func loadSensitivity(ctx context.Context, cfg *config.Config, opener calibration.Opener, logger *slog.Logger) (*spectral.Curve, error) {
	if cfg.SensitivityURI == "" {
		return nil, nil
	}
	curve, err := calibration.Load(ctx, opener, cfg.SensitivityURI)
	if err != nil {
		return nil, err
	}
	logger.Info("sensitivity loaded",
		slog.String("uri", cfg.SensitivityURI),
		slog.Int("points", len(curve.Frequencies)),
	)
	return curve, nil
}

func loadMetadata(ctx context.Context, cfg *config.Config, opener product.Opener, version string, logger *slog.Logger) (*product.Metadata, error) {
	var global product.Attributes
	if cfg.GlobalAttrsURI != "" {
		attrs, err := product.LoadAttributes(ctx, opener, cfg.GlobalAttrsURI, cfg.SetGlobalAttrs)
		if err != nil {
			return nil, err
		}
		global = attrs
	} else {
		for _, k := range slices.Sorted(maps.Keys(cfg.SetGlobalAttrs)) {
			global.Set(k, cfg.SetGlobalAttrs[k])
		}
	}

	var variables map[string]product.Attributes
	if cfg.VariableAttrsURI != "" {
		vars, err := product.LoadVariableAttributes(ctx, opener, cfg.VariableAttrsURI)
		if err != nil {
			return nil, err
		}
		variables = vars
	}

	return product.NewMetadata(global, variables,
		product.WithVersion(version),
		product.WithLogger(logger),
	), nil
}

func initSink(cfg *config.Config, o *options, logger *slog.Logger) (product.Sink, error) {
	files, err := product.NewFileSink(cfg.OutputDir, cfg.OutputPrefix, logger)
	if err != nil {
		return nil, err
	}

	bucket, prefix, err := cfg.OutputLocation()
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		return files, nil
	}

	store, ok := o.stores[storage.SchemeS3]
	if !ok {
		return nil, fmt.Errorf("output bucket %s: %w", bucket, storage.ErrNotConfigured)
	}
	logger.Info("uploads configured",
		slog.String("bucket", bucket),
		slog.String("prefix", prefix),
	)
	return product.NewUploadSink(files, store, bucket, prefix, logger), nil
}

// Run builds the dependencies for cfg and processes every configured date.
// It returns job.ErrRunFailed when at least one day failed.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) ([]job.Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dates, err := cfg.Dates()
	if err != nil {
		return nil, err
	}

	deps, err := NewDependencies(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	summaries, err := deps.Service.RunDays(ctx, dates)
	for _, s := range summaries {
		logger.Info("day summary",
			slog.String("date", s.Date.Format("20060102")),
			slog.String("status", string(s.Status)),
			slog.Int("files", len(s.Files)),
			slog.String("error", s.Error),
		)
	}
	if err != nil {
		return summaries, err
	}
	if job.Failed(summaries) {
		return summaries, job.ErrRunFailed
	}
	return summaries, nil
}
