package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing DATE returns error", func(t *testing.T) {
		_, err := loadMap(t, map[string]string{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDateRequired)
	})

	t.Run("DATE present succeeds", func(t *testing.T) {
		cfg, err := loadMap(t, map[string]string{"DATE": "20220902"})
		require.NoError(t, err)
		assert.Equal(t, "20220902", cfg.Date)
	})

	t.Run("malformed DATE returns error", func(t *testing.T) {
		_, err := loadMap(t, map[string]string{"DATE": "2022-09-02"})
		require.Error(t, err)
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"DATE": "20220902"})
	require.NoError(t, err)

	assert.Equal(t, "s3://pacific-sound-metadata/256khz", cfg.JSONBaseDir)
	assert.Equal(t, "milli_psd_", cfg.OutputPrefix)
	assert.Equal(t, "cloud_tmp", cfg.CloudTmpDir)
	assert.Equal(t, filepath.Join("cloud_tmp", "downloads"), cfg.DownloadDir)
	assert.Equal(t, filepath.Join("cloud_tmp", "output"), cfg.OutputDir)
	assert.Equal(t, 60, cfg.WindowSecs)
	assert.Equal(t, 0, cfg.MaxSegments)
	assert.Equal(t, 1, cfg.Jobs)
	assert.Nil(t, cfg.SensitivityFlatValue)
	assert.Nil(t, cfg.SubsetTo)
	assert.False(t, bool(cfg.AssumeDownloadedFiles))
	assert.False(t, bool(cfg.RetainDownloadedFiles))
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("DATE", "20220902")
	t.Setenv("S3_JSON_BUCKET_PREFIX", "s3://my-meta/16khz")
	t.Setenv("S3_OUTPUT_BUCKET", "my-output")
	t.Setenv("OUTPUT_PREFIX", "mars_")
	t.Setenv("GLOBAL_ATTRS_URI", "s3://my-meta/globalAttributes.yaml")
	t.Setenv("VARIABLE_ATTRS_URI", "s3://my-meta/variableAttributes.yaml")
	t.Setenv("EXCLUDE_TONE_CALIBRATION_SECONDS", "5")
	t.Setenv("VOLTAGE_MULTIPLIER", "3")
	t.Setenv("SENSITIVITY_FLAT_VALUE", "-176.1")
	t.Setenv("SUBSET_TO", "10, 100000")
	t.Setenv("CLOUD_TMP_DIR", "/work")
	t.Setenv("MAX_SEGMENTS", "5")
	t.Setenv("ASSUME_DOWNLOADED_FILES", "yes")
	t.Setenv("RETAIN_DOWNLOADED_FILES", "yes")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3://my-meta/16khz", cfg.JSONBaseDir)
	assert.Equal(t, "my-output", cfg.OutputBucket)
	assert.Equal(t, "mars_", cfg.OutputPrefix)
	assert.Equal(t, "s3://my-meta/globalAttributes.yaml", cfg.GlobalAttrsURI)
	assert.Equal(t, "s3://my-meta/variableAttributes.yaml", cfg.VariableAttrsURI)
	assert.Equal(t, 5.0, cfg.ExcludeToneCalibrationSecs)
	assert.Equal(t, 3.0, cfg.VoltageMultiplier)
	require.NotNil(t, cfg.SensitivityFlatValue)
	assert.Equal(t, -176.1, *cfg.SensitivityFlatValue)
	require.NotNil(t, cfg.SubsetTo)
	assert.Equal(t, FreqRange{Lo: 10, Hi: 100000}, *cfg.SubsetTo)
	assert.Equal(t, "/work/downloads", cfg.DownloadDir)
	assert.Equal(t, "/work/output", cfg.OutputDir)
	assert.Equal(t, 5, cfg.MaxSegments)
	assert.True(t, bool(cfg.AssumeDownloadedFiles))
	assert.True(t, bool(cfg.RetainDownloadedFiles))
	assert.Equal(t, "us-west-2", cfg.AWSRegion)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"max segments not a number", map[string]string{"MAX_SEGMENTS": "invalid"}},
		{"negative max segments", map[string]string{"MAX_SEGMENTS": "-1"}},
		{"subset with one value", map[string]string{"SUBSET_TO": "10"}},
		{"subset not numeric", map[string]string{"SUBSET_TO": "a,b"}},
		{"yes/no not recognized", map[string]string{"RETAIN_DOWNLOADED_FILES": "maybe"}},
		{"flat value not numeric", map[string]string{"SENSITIVITY_FLAT_VALUE": "loud"}},
		{"unknown log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"output prefix with a slash", map[string]string{"OUTPUT_PREFIX": "a/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env["DATE"] = "20220902"
			_, err := loadMap(t, tt.env)
			require.Error(t, err)
		})
	}
}

func TestLoadServer(t *testing.T) {
	t.Run("no date required", func(t *testing.T) {
		cfg, err := loadServer(context.Background(), envconfig.MapLookuper(map[string]string{}))
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Empty(t, cfg.Date)
	})

	t.Run("custom port", func(t *testing.T) {
		cfg, err := loadServer(context.Background(), envconfig.MapLookuper(map[string]string{"PORT": "9090"}))
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
	})

	t.Run("port out of range", func(t *testing.T) {
		_, err := loadServer(context.Background(), envconfig.MapLookuper(map[string]string{"PORT": "70000"}))
		require.Error(t, err)
	})

	t.Run("settings still validated", func(t *testing.T) {
		_, err := loadServer(context.Background(), envconfig.MapLookuper(map[string]string{
			"SENSITIVITY_URI":        "s3://bucket/sens.csv",
			"SENSITIVITY_FLAT_VALUE": "-176",
		}))
		assert.ErrorIs(t, err, ErrSensitivityConflict)
	})
}

func TestYesNo_EnvDecode(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"yes", true},
		{"YES", true},
		{"y", true},
		{"true", true},
		{"1", true},
		{"no", false},
		{"", false},
		{"false", false},
		{"0", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var b YesNo
			require.NoError(t, b.EnvDecode(tt.input))
			assert.Equal(t, tt.expected, bool(b))
		})
	}
}

func TestParseFreqRange(t *testing.T) {
	r, err := ParseFreqRange("1000, 2000.5")
	require.NoError(t, err)
	assert.Equal(t, FreqRange{Lo: 1000, Hi: 2000.5}, r)

	_, err = ParseFreqRange("1000")
	assert.ErrorIs(t, err, ErrInvalidSubset)
	_, err = ParseFreqRange("x,2000")
	assert.ErrorIs(t, err, ErrInvalidSubset)
}

func validConfig() *Config {
	return &Config{
		Date:         "20220902",
		JSONBaseDir:  "json",
		OutputDir:    "out",
		OutputPrefix: "milli_psd_",
		WindowSecs:   60,
		Jobs:         1,
		LogFormat:    "text",
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing date", func(t *testing.T) {
		cfg := validConfig()
		cfg.Date = ""
		assert.ErrorIs(t, cfg.Validate(), ErrDateRequired)
	})

	t.Run("half-open range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Date = ""
		cfg.StartDate = "20220901"
		assert.ErrorIs(t, cfg.Validate(), ErrDateRange)
	})

	t.Run("reversed range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Date = ""
		cfg.StartDate = "20220905"
		cfg.EndDate = "20220901"
		assert.ErrorIs(t, cfg.Validate(), ErrDateRange)
	})

	t.Run("missing JSON base", func(t *testing.T) {
		cfg := validConfig()
		cfg.JSONBaseDir = ""
		assert.ErrorIs(t, cfg.Validate(), ErrJSONBaseRequired)
	})

	t.Run("missing output directory", func(t *testing.T) {
		cfg := validConfig()
		cfg.OutputDir = ""
		assert.ErrorIs(t, cfg.Validate(), ErrOutputRequired)
	})

	t.Run("sensitivity URI and flat value", func(t *testing.T) {
		cfg := validConfig()
		flat := -176.1
		cfg.SensitivityURI = "sens.csv"
		cfg.SensitivityFlatValue = &flat
		assert.ErrorIs(t, cfg.Validate(), ErrSensitivityConflict)
	})

	t.Run("empty subset", func(t *testing.T) {
		cfg := validConfig()
		cfg.SubsetTo = &FreqRange{Lo: 2000, Hi: 1000}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidSubset)
	})

	t.Run("bad path map", func(t *testing.T) {
		cfg := validConfig()
		cfg.AudioPathMapPrefix = "s3://bucket"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero jobs", func(t *testing.T) {
		cfg := validConfig()
		cfg.Jobs = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestConfig_Dates(t *testing.T) {
	cfg := validConfig()
	cfg.Date = ""
	cfg.StartDate = "20220830"
	cfg.EndDate = "20220902"

	dates, err := cfg.Dates()
	require.NoError(t, err)
	require.Len(t, dates, 4)
	assert.Equal(t, time.Date(2022, 8, 30, 0, 0, 0, 0, time.UTC), dates[0])
	assert.Equal(t, time.Date(2022, 9, 2, 0, 0, 0, 0, time.UTC), dates[3])

	// DATE takes precedence.
	cfg.Date = "20230101"
	dates, err = cfg.Dates()
	require.NoError(t, err)
	assert.Equal(t, []time.Time{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}, dates)
}

func TestConfig_OutputLocation(t *testing.T) {
	tests := []struct {
		name       string
		bucket     string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"unset", "", "", "", false},
		{"bare bucket", "my-output", "my-output", "", false},
		{"uri with prefix", "s3://my-output/hmb/2022", "my-output", "hmb/2022", false},
		{"gs not supported", "gs://my-output/hmb", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{OutputBucket: tt.bucket}
			bucket, prefix, err := cfg.OutputLocation()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestConfig_NeedsCloud(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		wantS3 bool
		wantGS bool
	}{
		{"local only", Config{JSONBaseDir: "json"}, false, false},
		{"s3 catalog", Config{JSONBaseDir: "s3://meta/256khz"}, true, false},
		{"s3 flag", Config{JSONBaseDir: "json", S3: true}, true, false},
		{"unsigned flag", Config{JSONBaseDir: "json", S3Unsigned: true}, true, false},
		{"output bucket", Config{JSONBaseDir: "json", OutputBucket: "out"}, true, false},
		{"gs attributes", Config{JSONBaseDir: "json", GlobalAttrsURI: "gs://meta/g.yaml"}, false, true},
		{"gs path map", Config{JSONBaseDir: "json", AudioPathMapPrefix: "s3://a~gs://b"}, false, true},
		{"gs flag", Config{JSONBaseDir: "json", GS: true}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantS3, tt.cfg.NeedsS3())
			assert.Equal(t, tt.wantGS, tt.cfg.NeedsGS())
		})
	}
}

func TestConfig_String(t *testing.T) {
	flat := -176.1
	cfg := validConfig()
	cfg.AWSAccessKeyID = "access-key"
	cfg.AWSSecretAccessKey = "secret-key"
	cfg.SensitivityFlatValue = &flat
	cfg.SetGlobalAttrs = map[string]string{"title": "MARS"}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "20220902")
	assert.Contains(t, str, "milli_psd_")
	assert.Contains(t, str, "-176.1")
	assert.Contains(t, str, "title")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "access-key")
	assert.NotContains(t, str, "secret-key")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{LogFormat: format, LogLevel: "debug"}
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
