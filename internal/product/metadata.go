package product

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Variable names carried by a day product.
const (
	VarTime        = "time"
	VarFrequency   = "frequency"
	VarPSD         = "psd"
	VarEffort      = "effort"
	VarSensitivity = "sensitivity"
	VarQualityFlag = "quality_flag"
)

// VersionSnippet is replaced with the program version in global attributes.
const VersionSnippet = "{{PBP_version}}"

// Coverage is the time span of a day product.
type Coverage struct {
	Start      time.Time
	Resolution time.Duration
	Segments   int
}

// End is Start plus Segments windows.
func (c Coverage) End() time.Time {
	return c.Start.Add(time.Duration(c.Segments) * c.Resolution)
}

// Metadata holds the configured global and per-variable attributes.
type Metadata struct {
	global    Attributes
	variables map[string]Attributes
	version   string
	now       func() time.Time
	logger    *slog.Logger
}

// MetadataOption configures Metadata.
type MetadataOption func(*Metadata)

// WithVersion sets the value substituted for VersionSnippet.
func WithVersion(v string) MetadataOption {
	return func(m *Metadata) {
		m.version = v
	}
}

// WithClock sets the clock used for date_created.
func WithClock(now func() time.Time) MetadataOption {
	return func(m *Metadata) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MetadataOption {
	return func(m *Metadata) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMetadata creates Metadata. Both arguments may be nil.
func NewMetadata(global Attributes, variables map[string]Attributes, opts ...MetadataOption) *Metadata {
	m := &Metadata{
		global:    global.Clone(),
		variables: variables,
		version:   "dev",
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Global returns the global attributes for a product with coverage c. The
// time_coverage_* and date_created attributes are set, then every {{key}}
// snippet naming a global attribute and VersionSnippet are replaced.
func (m *Metadata) Global(c Coverage) Attributes {
	attrs := m.global.Clone()
	end := c.End()
	attrs.Set("time_coverage_start", c.Start.UTC().Format(time.RFC3339))
	attrs.Set("time_coverage_end", end.UTC().Format(time.RFC3339))
	attrs.Set("time_coverage_resolution", ISODuration(c.Resolution))
	attrs.Set("time_coverage_duration", ISODuration(end.Sub(c.Start)))
	attrs.Set("date_created", m.now().UTC().Format("2006-01-02"))

	snippets := map[string]string{VersionSnippet: m.version}
	for _, at := range attrs {
		snippets["{{"+at.Key+"}}"] = fmt.Sprint(at.Value)
	}
	return ReplaceSnippets(attrs, snippets)
}

// Variable returns the attributes configured for the named variable, or nil.
func (m *Metadata) Variable(name string) Attributes {
	attrs, ok := m.variables[name]
	if !ok {
		m.logger.Debug("no attributes for variable", slog.String("variable", name))
		return nil
	}
	m.logger.Debug("variable attributes added",
		slog.String("variable", name),
		slog.Any("keys", attrs.Keys()),
	)
	return attrs.Clone()
}

// ISODuration formats d as an ISO-8601 duration such as "P1D" or "PT1M".
func ISODuration(d time.Duration) string {
	if d <= 0 {
		return "P0D"
	}
	const day = 24 * time.Hour
	days := d / day
	d -= days * day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute

	var b strings.Builder
	b.WriteString("P")
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours == 0 && minutes == 0 && d == 0 {
		return b.String()
	}
	b.WriteString("T")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if d > 0 {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		b.WriteString("S")
	}
	return b.String()
}
