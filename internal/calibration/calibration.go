// Package calibration loads hydrophone sensitivity curves.
package calibration

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbari-org/pbp-sub000/internal/spectral"
)

// ErrUnsupportedFormat is returned for a sensitivity file whose extension is
// not .yaml, .yml, .json or .csv.
var ErrUnsupportedFormat = errors.New("calibration: unsupported sensitivity format")

// Opener opens a URI for reading.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

type curveDoc struct {
	Frequency   []float64 `yaml:"frequency"`
	Sensitivity []float64 `yaml:"sensitivity"`
}

// Load reads the sensitivity curve at uri. YAML and JSON documents carry
// "frequency" and "sensitivity" arrays; CSV files carry one
// frequency,sensitivity pair per row with an optional header.
func Load(ctx context.Context, opener Opener, uri string) (*spectral.Curve, error) {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open sensitivity %s: %w", uri, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read sensitivity %s: %w", uri, err)
	}

	curve, err := Parse(data, path.Ext(uri))
	if err != nil {
		return nil, fmt.Errorf("sensitivity %s: %w", uri, err)
	}
	return curve, nil
}

// Parse decodes a curve from data. ext selects the format.
func Parse(data []byte, ext string) (*spectral.Curve, error) {
	var curve *spectral.Curve
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", ".json":
		var doc curveDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		curve = &spectral.Curve{Frequencies: doc.Frequency, Values: doc.Sensitivity}
	case ".csv":
		var err error
		if curve, err = parseCSV(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err := curve.Validate(); err != nil {
		return nil, err
	}
	return curve, nil
}

func parseCSV(data []byte) (*spectral.Curve, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}

	curve := &spectral.Curve{}
	for i, rec := range records {
		f, ferr := strconv.ParseFloat(rec[0], 64)
		s, serr := strconv.ParseFloat(rec[1], 64)
		if ferr != nil || serr != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("decode csv row %d: %q", i+1, rec)
		}
		curve.Frequencies = append(curve.Frequencies, f)
		curve.Values = append(curve.Values, s)
	}
	return curve, nil
}
