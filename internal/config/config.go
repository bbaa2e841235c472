// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/mbari-org/pbp-sub000/internal/catalog"
	"github.com/mbari-org/pbp-sub000/internal/storage"
)

// Static errors for configuration validation.
var (
	// ErrDateRequired is returned when neither DATE nor a date range is set.
	ErrDateRequired = errors.New("config: DATE or a start/end date range is required")
	// ErrDateRange is returned for an empty or half-open date range.
	ErrDateRange = errors.New("config: invalid date range")
	// ErrJSONBaseRequired is returned when the catalog location is not set.
	ErrJSONBaseRequired = errors.New("config: JSON base directory is required")
	// ErrOutputRequired is returned when there is no output directory.
	ErrOutputRequired = errors.New("config: output directory is required")
	// ErrSensitivityConflict is returned when both a sensitivity file and a
	// flat sensitivity value are given.
	ErrSensitivityConflict = errors.New("config: sensitivity URI and flat sensitivity value are mutually exclusive")
	// ErrInvalidSubset is returned for a malformed frequency subset.
	ErrInvalidSubset = errors.New("config: invalid frequency subset")
)

// Layout of CLOUD_TMP_DIR in cloud mode.
const (
	cloudDownloadsDir = "downloads"
	cloudOutputDir    = "output"
)

// Config holds all configuration for one run.
//
// Load fills it from the environment (cloud mode). The CLI fills it from
// flags. Both go through Validate.
type Config struct {
	// Dates
	Date      string `env:"DATE" json:"date,omitempty" validate:"omitempty,datetime=20060102"`
	StartDate string `json:"start_date,omitempty" validate:"omitempty,datetime=20060102"`
	EndDate   string `json:"end_date,omitempty" validate:"omitempty,datetime=20060102"`

	// Inputs
	JSONBaseDir        string            `env:"S3_JSON_BUCKET_PREFIX, default=s3://pacific-sound-metadata/256khz" json:"json_base_dir"`
	AudioBaseDir       string            `json:"audio_base_dir,omitempty"`
	AudioPathMapPrefix string            `json:"audio_path_map_prefix,omitempty"`
	AudioPathPrefix    string            `json:"audio_path_prefix,omitempty"`
	GlobalAttrsURI     string            `env:"GLOBAL_ATTRS_URI" json:"global_attrs_uri,omitempty"`
	SetGlobalAttrs     map[string]string `json:"set_global_attrs,omitempty"`
	VariableAttrsURI   string            `env:"VARIABLE_ATTRS_URI" json:"variable_attrs_uri,omitempty"`

	// Processing settings
	WindowSecs                 int        `env:"WINDOW_SECS, default=60" json:"window_secs" validate:"gt=0,lte=86400"`
	MaxSegments                int        `env:"MAX_SEGMENTS, default=0" json:"max_segments" validate:"gte=0"`
	Jobs                       int        `env:"JOBS, default=1" json:"jobs" validate:"gte=1"`
	ExcludeToneCalibrationSecs float64    `env:"EXCLUDE_TONE_CALIBRATION_SECONDS" json:"exclude_tone_calibration_secs,omitempty" validate:"gte=0"`
	VoltageMultiplier          float64    `env:"VOLTAGE_MULTIPLIER" json:"voltage_multiplier,omitempty" validate:"gte=0"`
	SensitivityURI             string     `env:"SENSITIVITY_URI" json:"sensitivity_uri,omitempty"`
	SensitivityFlatValue       *float64   `env:"SENSITIVITY_FLAT_VALUE, noinit" json:"sensitivity_flat_value,omitempty"`
	SubsetTo                   *FreqRange `env:"SUBSET_TO, noinit" json:"subset_to,omitempty"`
	AddQualityFlag             bool       `env:"ADD_QUALITY_FLAG" json:"add_quality_flag,omitempty"`

	// Outputs
	OutputDir    string `json:"output_dir"`
	OutputPrefix string `env:"OUTPUT_PREFIX, default=milli_psd_" json:"output_prefix" validate:"excludesall=/"`
	OutputBucket string `env:"S3_OUTPUT_BUCKET" json:"output_bucket,omitempty"`

	// Storage settings
	CloudTmpDir           string `env:"CLOUD_TMP_DIR, default=cloud_tmp" json:"cloud_tmp_dir,omitempty"`
	DownloadDir           string `json:"download_dir,omitempty"`
	AssumeDownloadedFiles YesNo  `env:"ASSUME_DOWNLOADED_FILES" json:"assume_downloaded_files,omitempty"`
	RetainDownloadedFiles YesNo  `env:"RETAIN_DOWNLOADED_FILES" json:"retain_downloaded_files,omitempty"`
	S3                    bool   `json:"s3,omitempty"`
	S3Unsigned            bool   `json:"s3_unsigned,omitempty"`
	GS                    bool   `json:"gs,omitempty"`

	// Optional S3 settings
	AWSRegion          string `env:"AWS_REGION" json:"aws_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Server settings
	Port int `env:"PORT, default=8080" json:"port,omitempty" validate:"gte=0,lte=65535"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"omitempty,oneof=json text JSON TEXT"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// FreqRange is a [Lo, Hi) frequency range in Hz. From the environment it is
// written "lo,hi".
type FreqRange struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// EnvDecode implements envconfig.Decoder.
func (r *FreqRange) EnvDecode(val string) error {
	parsed, err := ParseFreqRange(val)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseFreqRange parses "lo,hi".
func ParseFreqRange(s string) (FreqRange, error) {
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return FreqRange{}, fmt.Errorf("%w: %q: expected lo,hi", ErrInvalidSubset, s)
	}
	l, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return FreqRange{}, fmt.Errorf("%w: %q: %w", ErrInvalidSubset, s, err)
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return FreqRange{}, fmt.Errorf("%w: %q: %w", ErrInvalidSubset, s, err)
	}
	return FreqRange{Lo: l, Hi: h}, nil
}

// YesNo is a boolean that also accepts "yes" and "no", the form the cloud
// job definitions use.
type YesNo bool

// EnvDecode implements envconfig.Decoder.
func (b *YesNo) EnvDecode(val string) error {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "no", "n":
		*b = false
		return nil
	case "yes", "y":
		*b = true
		return nil
	}
	v, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid yes/no value %q", val)
	}
	*b = YesNo(v)
	return nil
}

// Load reads cloud-mode configuration from environment variables using
// go-envconfig. Downloads and generated files go under CLOUD_TMP_DIR.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

// LoadServer reads the configuration from the environment for the job
// server. Dates come with each request, so none are required.
func LoadServer() (*Config, error) {
	return loadServer(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg, err := process(ctx, l)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadServer(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg, err := process(ctx, l)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func process(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.DownloadDir = filepath.Join(cfg.CloudTmpDir, cloudDownloadsDir)
	cfg.OutputDir = filepath.Join(cfg.CloudTmpDir, cloudOutputDir)
	return cfg, nil
}

// Validate checks that all required configuration is present and
// consistent.
func (c *Config) Validate() error {
	if c.Date == "" && c.StartDate == "" && c.EndDate == "" {
		return ErrDateRequired
	}
	if c.Date == "" && (c.StartDate == "" || c.EndDate == "") {
		return fmt.Errorf("%w: both start and end dates are required", ErrDateRange)
	}
	if err := c.ValidateSettings(); err != nil {
		return err
	}

	dates, err := c.Dates()
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		return fmt.Errorf("%w: %s is after %s", ErrDateRange, c.StartDate, c.EndDate)
	}
	return nil
}

// ValidateSettings checks everything but the dates.
func (c *Config) ValidateSettings() error {
	if c.JSONBaseDir == "" {
		return ErrJSONBaseRequired
	}
	if c.OutputDir == "" {
		return ErrOutputRequired
	}
	if c.SensitivityURI != "" && c.SensitivityFlatValue != nil {
		return ErrSensitivityConflict
	}
	if c.SubsetTo != nil && c.SubsetTo.Lo >= c.SubsetTo.Hi {
		return fmt.Errorf("%w: [%g, %g) is empty", ErrInvalidSubset, c.SubsetTo.Lo, c.SubsetTo.Hi)
	}
	if c.AudioPathMapPrefix != "" {
		if _, err := storage.ParsePrefixMap(c.AudioPathMapPrefix); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Dates returns the UTC days to process, in increasing order. Date takes
// precedence over the range.
func (c *Config) Dates() ([]time.Time, error) {
	if c.Date != "" {
		d, err := catalog.ParseDate(c.Date)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return []time.Time{d}, nil
	}

	start, err := catalog.ParseDate(c.StartDate)
	if err != nil {
		return nil, fmt.Errorf("config: start date: %w", err)
	}
	end, err := catalog.ParseDate(c.EndDate)
	if err != nil {
		return nil, fmt.Errorf("config: end date: %w", err)
	}

	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates, nil
}

// OutputLocation splits OutputBucket into a bucket and key prefix. Both a
// bare bucket name and an s3:// URI are accepted.
func (c *Config) OutputLocation() (bucket, prefix string, err error) {
	if c.OutputBucket == "" {
		return "", "", nil
	}
	if !strings.Contains(c.OutputBucket, "://") {
		return strings.Trim(c.OutputBucket, "/"), "", nil
	}
	loc, err := storage.ParseURI(c.OutputBucket)
	if err != nil {
		return "", "", fmt.Errorf("config: output bucket: %w", err)
	}
	if loc.Scheme != storage.SchemeS3 {
		return "", "", fmt.Errorf("config: output bucket %q: %w", c.OutputBucket, storage.ErrUnsupportedScheme)
	}
	return loc.Bucket, loc.Key, nil
}

// NeedsS3 reports whether an S3 client is required.
func (c *Config) NeedsS3() bool {
	return c.S3 || c.S3Unsigned || c.OutputBucket != "" || c.usesScheme(storage.SchemeS3)
}

// NeedsGS reports whether a Google Cloud Storage client is required.
func (c *Config) NeedsGS() bool {
	return c.GS || c.usesScheme(storage.SchemeGS)
}

func (c *Config) usesScheme(scheme string) bool {
	prefix := scheme + "://"
	for _, uri := range []string{
		c.JSONBaseDir, c.AudioBaseDir, c.GlobalAttrsURI, c.VariableAttrsURI, c.SensitivityURI,
	} {
		if strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	_, to, _ := strings.Cut(c.AudioPathMapPrefix, "~")
	return strings.HasPrefix(to, prefix)
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	flat := "none"
	if c.SensitivityFlatValue != nil {
		flat = strconv.FormatFloat(*c.SensitivityFlatValue, 'g', -1, 64)
	}
	subset := "none"
	if c.SubsetTo != nil {
		subset = fmt.Sprintf("[%g,%g)", c.SubsetTo.Lo, c.SubsetTo.Hi)
	}
	attrs := slices.Sorted(maps.Keys(c.SetGlobalAttrs))
	return fmt.Sprintf(
		"Config{Date: %s, StartDate: %s, EndDate: %s, JSONBaseDir: %s, AudioBaseDir: %s, OutputDir: %s, OutputPrefix: %s, OutputBucket: %s, WindowSecs: %d, MaxSegments: %d, Jobs: %d, SensitivityURI: %s, SensitivityFlatValue: %s, SubsetTo: %s, SetGlobalAttrs: %v, AWSRegion: %s, AWSAccessKeyID: %s, LogFormat: %s, LogLevel: %s}",
		c.Date,
		c.StartDate,
		c.EndDate,
		c.JSONBaseDir,
		c.AudioBaseDir,
		c.OutputDir,
		c.OutputPrefix,
		c.OutputBucket,
		c.WindowSecs,
		c.MaxSegments,
		c.Jobs,
		c.SensitivityURI,
		flat,
		subset,
		attrs,
		c.AWSRegion,
		mask(c.AWSAccessKeyID),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
