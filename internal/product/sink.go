package product

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Sink persists a day product and returns the locations written.
type Sink interface {
	Save(ctx context.Context, p *DayProduct) ([]string, error)
}

// Compile-time checks.
var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*UploadSink)(nil)
)

// FileSink writes {dir}/{prefix}{YYYYMMDD}.csv with one row per window and a
// {prefix}{YYYYMMDD}.yaml sidecar with the attributes and the sensitivity.
// A quality flag matrix goes to {prefix}{YYYYMMDD}_quality_flag.csv.
type FileSink struct {
	dir    string
	prefix string
	logger *slog.Logger
}

// NewFileSink creates dir if needed.
func NewFileSink(dir, prefix string, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{dir: dir, prefix: prefix, logger: logger}, nil
}

// BaseName returns the file name stem for date.
func (s *FileSink) BaseName(date time.Time) string {
	return s.prefix + date.UTC().Format("20060102")
}

// Save writes the product files.
func (s *FileSink) Save(ctx context.Context, p *DayProduct) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Join(s.dir, s.BaseName(p.Date))

	var files []string
	write := func(name string, fn func(io.Writer) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := writeFile(name, fn)
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		s.logger.Info("saved product file",
			slog.String("path", name),
			slog.String("size", humanize.Bytes(uint64(n))),
		)
		files = append(files, name)
		return nil
	}

	if err := write(base+".csv", p.writeCSV); err != nil {
		return files, err
	}
	if p.QualityFlag != nil {
		if err := write(base+"_quality_flag.csv", p.writeQualityFlag); err != nil {
			return files, err
		}
	}
	if err := write(base+".yaml", p.writeSidecar); err != nil {
		return files, err
	}
	return files, nil
}

func writeFile(name string, fn func(io.Writer) error) (int64, error) {
	f, err := os.Create(name) // #nosec G304 - path is built from configuration
	if err != nil {
		return 0, err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	return info.Size(), f.Close()
}

func (p *DayProduct) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(p.Frequencies)+2)
	header = append(header, VarTime, VarEffort)
	for _, f := range p.Frequencies {
		header = append(header, strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, t := range p.Times {
		row[0] = t.UTC().Format(time.RFC3339)
		row[1] = formatLevel(p.Effort[i])
		for j, v := range p.PSD[i] {
			row[j+2] = formatLevel(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (p *DayProduct) writeQualityFlag(w io.Writer) error {
	cw := csv.NewWriter(w)
	row := make([]string, len(p.Frequencies)+1)
	row[0] = VarTime
	for j, f := range p.Frequencies {
		row[j+1] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	for i, t := range p.Times {
		row[0] = t.UTC().Format(time.RFC3339)
		for j, q := range p.QualityFlag[i] {
			row[j+1] = strconv.Itoa(int(q))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatLevel keeps one decimal. NaN is written as an empty field.
func formatLevel(v float32) string {
	if math.IsNaN(float64(v)) {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', 1, 32)
}

type sidecar struct {
	Date        string         `yaml:"date"`
	Dimensions  map[string]int `yaml:"dimensions"`
	Global      Attributes     `yaml:"global_attributes"`
	Variables   Attributes     `yaml:"variables"`
	Sensitivity []float32      `yaml:"sensitivity,omitempty"`
}

func (p *DayProduct) writeSidecar(w io.Writer) error {
	doc := sidecar{
		Date: p.Date.UTC().Format("2006-01-02"),
		Dimensions: map[string]int{
			VarTime:      len(p.Times),
			VarFrequency: len(p.Frequencies),
		},
		Global:      p.Global,
		Sensitivity: p.Sensitivity,
	}
	if doc.Global == nil {
		doc.Global = Attributes{}
	}
	doc.Variables = Attributes{}
	for _, name := range p.variableNames() {
		attrs := p.Variables[name]
		if attrs == nil {
			attrs = Attributes{}
		}
		doc.Variables.Set(name, attrs)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func (p *DayProduct) variableNames() []string {
	names := []string{VarTime, VarFrequency, VarPSD, VarEffort}
	if p.Sensitivity != nil {
		names = append(names, VarSensitivity)
	}
	if p.QualityFlag != nil {
		names = append(names, VarQualityFlag)
	}
	return names
}

// ObjectStore is the subset of a bucket client the upload sink needs.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data io.Reader) (string, error)
}

// UploadSink writes through another sink, uploads each file to a bucket and
// removes the local copies.
type UploadSink struct {
	inner  Sink
	store  ObjectStore
	bucket string
	prefix string
	logger *slog.Logger
}

// NewUploadSink uploads to bucket under the key prefix keyPrefix.
func NewUploadSink(inner Sink, store ObjectStore, bucket, keyPrefix string, logger *slog.Logger) *UploadSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadSink{
		inner:  inner,
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(keyPrefix, "/"),
		logger: logger,
	}
}

// Save writes the product locally, uploads it and returns the uploaded URIs.
// Local files are removed only when every upload succeeded.
func (s *UploadSink) Save(ctx context.Context, p *DayProduct) ([]string, error) {
	local, err := s.inner.Save(ctx, p)
	if err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(local))
	for _, name := range local {
		uri, err := s.upload(ctx, name)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}

	for _, name := range local {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove uploaded file",
				slog.String("path", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return uris, nil
}

func (s *UploadSink) upload(ctx context.Context, name string) (string, error) {
	f, err := os.Open(name) // #nosec G304 - path comes from the inner sink
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	key := filepath.Base(name)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	uri, err := s.store.Put(ctx, s.bucket, key, f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	s.logger.Info("uploaded product file",
		slog.String("path", name),
		slog.String("uri", uri),
	)
	return uri, nil
}
