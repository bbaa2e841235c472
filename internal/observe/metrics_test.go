package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordWindow(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWindow(ctx, WindowPresent)
	m.RecordWindow(ctx, WindowPresent)
	m.RecordWindow(ctx, WindowMissing)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "pbp.windows", "status", WindowPresent); got != 2 {
		t.Errorf("present windows = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "pbp.windows", "status", WindowMissing); got != 1 {
		t.Errorf("missing windows = %d, want 1", got)
	}
}

func TestSourceCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SourcesOpened.Add(ctx, 3)
	m.SourcesEvicted.Add(ctx, 2)
	m.SourcesFailed.Add(ctx, 1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"pbp.sources.opened":  3,
		"pbp.sources.evicted": 2,
		"pbp.sources.failed":  1,
	} {
		if got := sumByAttr(t, rm, name, "", ""); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestRecordDay(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordDay(context.Background(), "completed", 90*time.Second)

	rm := collect(t, reader)
	met := findMetric(rm, "pbp.day.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Sum != 90 {
		t.Errorf("sum = %v, want 90", hist.DataPoints[0].Sum)
	}
}

func TestDefaultMetrics_IsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Fatal("DefaultMetrics should return the same non-nil instance")
	}
	// Recording on the global no-op provider must not panic.
	a.RecordWindow(context.Background(), WindowPresent)
}
