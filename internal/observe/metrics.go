// Package observe provides the observability primitives of speechsocket:
// OpenTelemetry metrics, tracing, trace-correlated logging and the HTTP
// middleware used by the status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter installed by [InitProvider]. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] instead of
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/speechsocket"

// Session outcomes used as the "outcome" attribute.
const (
	OutcomeCompleted  = "completed"
	OutcomeInactivity = "inactivity"
	OutcomeError      = "error"
	OutcomeRejected   = "rejected"
)

// Metrics holds all metric instruments. The OTel instruments are safe for
// concurrent use.
type Metrics struct {
	// SessionDuration tracks the wall time of a recognition session.
	SessionDuration metric.Float64Histogram

	// Sessions counts finished sessions. Attribute: outcome.
	Sessions metric.Int64Counter

	// ActiveSessions tracks sessions currently streaming.
	ActiveSessions metric.Int64UpDownCounter

	// AudioBytes counts audio bytes uploaded.
	AudioBytes metric.Int64Counter

	// AudioChunks counts non-empty audio frames uploaded.
	AudioChunks metric.Int64Counter

	// Events counts callback events. Attribute: kind.
	Events metric.Int64Counter

	// HTTPRequestDuration tracks status server latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets are histogram boundaries in seconds. Sessions last as long
// as the audio they stream.
var sessionBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("speechsocket.session.duration",
		metric.WithDescription("Duration of recognition sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("speechsocket.sessions",
		metric.WithDescription("Finished recognition sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("speechsocket.active_sessions",
		metric.WithDescription("Number of sessions currently streaming."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("speechsocket.audio.bytes",
		metric.WithDescription("Audio bytes uploaded to the recognition service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("speechsocket.audio.chunks",
		metric.WithDescription("Audio frames uploaded to the recognition service."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("speechsocket.events",
		metric.WithDescription("Recognition callback events by kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("speechsocket.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession records a finished session with its outcome and duration.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("outcome", outcome))
	m.Sessions.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordUpload adds the bytes and frames a session uploaded.
func (m *Metrics) RecordUpload(ctx context.Context, bytes int64, chunks int) {
	m.AudioBytes.Add(ctx, bytes)
	m.AudioChunks.Add(ctx, int64(chunks))
}

// RecordEvent counts one callback event.
func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}
