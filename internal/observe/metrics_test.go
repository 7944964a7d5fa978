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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// sumFor returns the value of the int64 sum data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(Attr(key, "").Key); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordSession(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSession(ctx, OutcomeCompleted, 2*time.Second)
	m.RecordSession(ctx, OutcomeCompleted, 3*time.Second)
	m.RecordSession(ctx, OutcomeError, time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speechsocket.sessions", "outcome", OutcomeCompleted); got != 2 {
		t.Errorf("completed sessions = %d, want 2", got)
	}
	if got := sumFor(t, rm, "speechsocket.sessions", "outcome", OutcomeError); got != 1 {
		t.Errorf("errored sessions = %d, want 1", got)
	}

	met := findMetric(rm, "speechsocket.session.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var count uint64
	var total float64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		total += dp.Sum
	}
	if count != 3 || total != 6 {
		t.Errorf("duration count=%d sum=%v, want 3 and 6", count, total)
	}
}

func TestRecordUpload(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUpload(ctx, 2500, 3)
	m.RecordUpload(ctx, 500, 1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speechsocket.audio.bytes", "", ""); got != 3000 {
		t.Errorf("audio bytes = %d, want 3000", got)
	}
	if got := sumFor(t, rm, "speechsocket.audio.chunks", "", ""); got != 4 {
		t.Errorf("audio chunks = %d, want 4", got)
	}
}

func TestRecordEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvent(ctx, "transcription")
	m.RecordEvent(ctx, "transcription")
	m.RecordEvent(ctx, "hypothesis")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speechsocket.events", "kind", "transcription"); got != 2 {
		t.Errorf("transcription events = %d, want 2", got)
	}
	if got := sumFor(t, rm, "speechsocket.events", "kind", "hypothesis"); got != 1 {
		t.Errorf("hypothesis events = %d, want 1", got)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speechsocket.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
