// Package observe provides the OpenTelemetry metric instruments recorded
// while processing days.
//
// Instruments are created through the OpenTelemetry Metrics API. Without an
// installed SDK the global provider is a no-op. Tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/mbari-org/pbp-sub000"

// Window status attribute values.
const (
	WindowPresent = "present"
	WindowMissing = "missing"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// Windows counts processed time windows. Use with attribute:
	//   attribute.String("status", WindowPresent|WindowMissing)
	Windows metric.Int64Counter

	// SourcesOpened counts audio source handles built by the cache.
	SourcesOpened metric.Int64Counter

	// SourcesEvicted counts handles closed by age.
	SourcesEvicted metric.Int64Counter

	// SourcesFailed counts handles whose download or header read failed.
	SourcesFailed metric.Int64Counter

	// DayDuration tracks the wall time to process one day. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	DayDuration metric.Float64Histogram
}

// dayBuckets defines histogram bucket boundaries (in seconds) for day runs,
// which take from seconds (sparse days) to hours.
var dayBuckets = []float64{
	1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 14400,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Windows, err = m.Int64Counter("pbp.windows",
		metric.WithDescription("Time windows processed, by status."),
	); err != nil {
		return nil, err
	}
	if met.SourcesOpened, err = m.Int64Counter("pbp.sources.opened",
		metric.WithDescription("Audio sources opened."),
	); err != nil {
		return nil, err
	}
	if met.SourcesEvicted, err = m.Int64Counter("pbp.sources.evicted",
		metric.WithDescription("Audio sources closed after aging out of the cache."),
	); err != nil {
		return nil, err
	}
	if met.SourcesFailed, err = m.Int64Counter("pbp.sources.failed",
		metric.WithDescription("Audio sources that could not be downloaded or opened."),
	); err != nil {
		return nil, err
	}
	if met.DayDuration, err = m.Float64Histogram("pbp.day.duration",
		metric.WithDescription("Wall time to process one day."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(dayBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. If that fails, the instruments
// are no-ops.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			defaultMetrics, _ = NewMetrics(noop.NewMeterProvider())
		}
	})
	return defaultMetrics
}

// RecordWindow counts one window with the given status.
func (m *Metrics) RecordWindow(ctx context.Context, status string) {
	m.Windows.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordDay records the duration of one day run.
func (m *Metrics) RecordDay(ctx context.Context, outcome string, d time.Duration) {
	m.DayDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}
