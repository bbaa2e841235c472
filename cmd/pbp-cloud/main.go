// Package main provides the pbp-cloud command. It processes the day named
// by the DATE environment variable, reading catalogs and audio from buckets
// and uploading the product to S3_OUTPUT_BUCKET when it is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbari-org/pbp-sub000/internal/bootstrap"
	"github.com/mbari-org/pbp-sub000/internal/config"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println("pbp-cloud", version)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting pbp-cloud",
		slog.String("version", version),
		slog.String("date", cfg.Date),
		slog.String("json_bucket_prefix", cfg.JSONBaseDir),
		slog.String("output_bucket", cfg.OutputBucket),
		slog.String("cloud_tmp_dir", cfg.CloudTmpDir),
		slog.Int("max_segments", cfg.MaxSegments),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summaries, err := bootstrap.Run(ctx, cfg, logger, bootstrap.WithVersion(version))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted")
		}
		return err
	}

	for _, s := range summaries {
		for _, f := range s.Files {
			logger.Info("generated", slog.String("file", f))
		}
	}
	return nil
}
