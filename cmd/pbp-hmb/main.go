// Package main provides the pbp-hmb command, which computes hybrid
// millidecade band spectra for one or more days of audio.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/mbari-org/pbp-sub000/internal/bootstrap"
	"github.com/mbari-org/pbp-sub000/internal/config"
)

var (
	version = "dev"
)

// CLI defines the command-line interface
type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version information"`

	JSONBaseDir        string            `name:"json-base-dir" short:"j" required:"" placeholder:"DIR" help:"JSON base directory (local path, s3:// or gs:// prefix)"`
	AudioBaseDir       string            `name:"audio-base-dir" placeholder:"DIR" help:"Base directory for relative audio paths"`
	GlobalAttrs        string            `name:"global-attrs" placeholder:"URI" help:"URI of a JSON or YAML file with global attributes for the product"`
	SetGlobalAttr      map[string]string `name:"set-global-attr" placeholder:"KEY=VALUE" help:"Set global attribute KEY to VALUE, which also replaces every {{KEY}} snippet (repeatable)"`
	VariableAttrs      string            `name:"variable-attrs" placeholder:"URI" help:"URI of a JSON or YAML file with attributes for the product variables"`
	AudioPathMapPrefix string            `name:"audio-path-map-prefix" placeholder:"FROM~TO" help:"Prefix mapping to get the actual audio URI"`
	AudioPathPrefix    string            `name:"audio-path-prefix" placeholder:"PREFIX" help:"Ad hoc path prefix for sound file locations, for example /Volumes"`

	Date      string `short:"d" placeholder:"YYYYMMDD" help:"The date to be processed" xor:"date"`
	StartDate string `name:"start-date" placeholder:"YYYYMMDD" help:"First date of a range to process" xor:"date" and:"range"`
	EndDate   string `name:"end-date" placeholder:"YYYYMMDD" help:"Last date of a range to process (inclusive)" and:"range"`
	Jobs      int    `default:"1" help:"Number of days processed in parallel"`

	VoltageMultiplier      float64  `name:"voltage-multiplier" help:"Applied on the loaded signal"`
	SensitivityURI         string   `name:"sensitivity-uri" placeholder:"URI" help:"URI of a sensitivity curve (YAML, JSON or CSV) to calibrate the result" xor:"sensitivity"`
	SensitivityFlatValue   *float64 `name:"sensitivity-flat-value" placeholder:"DB" help:"Flat sensitivity value to be used for calibration" xor:"sensitivity"`
	SubsetTo               string   `name:"subset-to" placeholder:"LO,HI" help:"Subset the resulting PSD to [LO, HI), in terms of central frequency"`
	ExcludeToneCalibration float64  `name:"exclude-tone-calibration" placeholder:"SECS" help:"Seconds to skip at the start of every audio file"`
	AddQualityFlag         bool     `name:"add-quality-flag" help:"Add a quality flag matrix to the output"`
	WindowSecs             int      `name:"window-secs" default:"60" help:"Analysis window length in seconds"`
	MaxSegments            int      `name:"max-segments" default:"0" help:"Test convenience: limit the number of windows per day (0 means no limit)"`

	OutputDir    string `name:"output-dir" short:"o" required:"" placeholder:"DIR" help:"Output directory"`
	OutputPrefix string `name:"output-prefix" default:"milli_psd_" help:"Output filename prefix"`

	S3                    bool   `name:"s3" help:"S3 access involved"`
	S3Unsigned            bool   `name:"s3-unsigned" help:"Unsigned S3 access (public buckets)"`
	GS                    bool   `name:"gs" help:"Google Cloud Storage access involved"`
	DownloadDir           string `name:"download-dir" placeholder:"DIR" help:"Directory for any downloads (when s3 or gs is involved)"`
	AssumeDownloadedFiles bool   `name:"assume-downloaded-files" help:"If a destination file for a download exists, assume it was downloaded already"`
	RetainDownloadedFiles bool   `name:"retain-downloaded-files" help:"Do not remove any downloaded files after use"`

	AWSRegion  string `name:"aws-region" env:"AWS_REGION" help:"AWS region for S3 access"`
	S3Endpoint string `name:"s3-endpoint" env:"S3_ENDPOINT" help:"Custom S3-compatible endpoint"`

	LogFormat string `name:"log-format" env:"LOG_FORMAT" default:"text" enum:"text,json" help:"Log format (text or json)"`
	LogLevel  string `name:"log-level" env:"LOG_LEVEL" default:"info" help:"Log level (debug, info, warn, error)"`
}

// Config converts the parsed flags into a validated configuration.
func (c *CLI) Config() (*config.Config, error) {
	cfg := &config.Config{
		Date:                       c.Date,
		StartDate:                  c.StartDate,
		EndDate:                    c.EndDate,
		JSONBaseDir:                c.JSONBaseDir,
		AudioBaseDir:               c.AudioBaseDir,
		AudioPathMapPrefix:         c.AudioPathMapPrefix,
		AudioPathPrefix:            c.AudioPathPrefix,
		GlobalAttrsURI:             c.GlobalAttrs,
		SetGlobalAttrs:             c.SetGlobalAttr,
		VariableAttrsURI:           c.VariableAttrs,
		WindowSecs:                 c.WindowSecs,
		MaxSegments:                c.MaxSegments,
		Jobs:                       c.Jobs,
		ExcludeToneCalibrationSecs: c.ExcludeToneCalibration,
		VoltageMultiplier:          c.VoltageMultiplier,
		SensitivityURI:             c.SensitivityURI,
		SensitivityFlatValue:       c.SensitivityFlatValue,
		AddQualityFlag:             c.AddQualityFlag,
		OutputDir:                  c.OutputDir,
		OutputPrefix:               c.OutputPrefix,
		DownloadDir:                c.DownloadDir,
		AssumeDownloadedFiles:      config.YesNo(c.AssumeDownloadedFiles),
		RetainDownloadedFiles:      config.YesNo(c.RetainDownloadedFiles),
		S3:                         c.S3,
		S3Unsigned:                 c.S3Unsigned,
		GS:                         c.GS,
		AWSRegion:                  c.AWSRegion,
		S3Endpoint:                 c.S3Endpoint,
		LogFormat:                  c.LogFormat,
		LogLevel:                   c.LogLevel,
	}
	if c.SubsetTo != "" {
		r, err := config.ParseFreqRange(c.SubsetTo)
		if err != nil {
			return nil, err
		}
		cfg.SubsetTo = &r
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cliArgs := &CLI{}
	kong.Parse(cliArgs,
		kong.Name("pbp-hmb"),
		kong.Description("Hybrid millidecade band spectra for passive acoustic monitoring audio"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	if err := run(cliArgs); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cliArgs *CLI) error {
	cfg, err := cliArgs.Config()
	if err != nil {
		return err
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting pbp-hmb",
		slog.String("version", version),
		slog.String("config", cfg.String()),
	)

	// Stop between windows on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := bootstrap.Run(ctx, cfg, logger, bootstrap.WithVersion(version)); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted")
		}
		return err
	}

	logger.Info("run finished")
	return nil
}
