// Package observe carries the observability stack of intervox: OpenTelemetry
// metrics exported to Prometheus, W3C trace propagation, trace-aware slog
// loggers and the HTTP middleware tying them together.
//
// Use [DefaultMetrics] in the binary. Tests build their own [Metrics] from a
// private [metric.MeterProvider] with [NewMetrics].
package observe

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every intervox instrument.
const meterName = "github.com/MrWong99/intervox"

// Stage names one timed step of the evaluation pipeline.
type Stage string

const (
	StageAnalysis Stage = "analysis"
	StageSTT      Stage = "stt"
	StageScoring  Stage = "scoring"
)

var (
	// latencyBuckets fit stages that process a full answer of up to three
	// minutes, in seconds.
	latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	// audioBuckets are answer lengths in seconds.
	audioBuckets = []float64{5, 15, 30, 60, 90, 120, 180, 240}
)

// Metrics records the application's instruments. Every method is safe for
// concurrent use and does nothing on a nil *Metrics.
type Metrics struct {
	evaluationDuration metric.Float64Histogram
	stageDuration      metric.Float64Histogram
	audioDuration      metric.Float64Histogram
	evaluations        metric.Int64Counter
	inFlight           metric.Int64UpDownCounter
	scores             metric.Int64Counter
	corrections        metric.Int64Counter
	providerRequests   metric.Int64Counter
	providerErrors     metric.Int64Counter
	httpDuration       metric.Float64Histogram
}

// instruments creates instruments on one meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) histogram(name, desc, unit string, buckets []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		evaluationDuration: b.histogram("intervox.evaluation.duration", "End-to-end latency of evaluating one answer.", "s", latencyBuckets),
		stageDuration:      b.histogram("intervox.stage.duration", "Latency of one pipeline stage by stage.", "s", latencyBuckets),
		audioDuration:      b.histogram("intervox.audio.duration", "Length of submitted answers before capping.", "s", audioBuckets),
		evaluations:        b.counter("intervox.evaluations", "Finished evaluations by status."),
		inFlight:           b.gauge("intervox.evaluations.in_flight", "Evaluations currently running."),
		scores:             b.counter("intervox.scores", "Awarded rubric levels by level."),
		corrections:        b.counter("intervox.transcript.corrections", "Transcript substitutions by method."),
		providerRequests:   b.counter("intervox.provider.requests", "Provider calls by provider, kind and status."),
		providerErrors:     b.counter("intervox.provider.errors", "Failed provider calls by provider and kind."),
		httpDuration:       b.histogram("intervox.http.request.duration", "HTTP request latency by method, route and status.", "s", latencyBuckets),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider, creating it on first use. It panics if an instrument cannot be
// created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// EvaluationStarted marks one evaluation as running.
func (m *Metrics) EvaluationStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, 1)
}

// EvaluationFinished ends an evaluation begun with [Metrics.EvaluationStarted]
// and records its status ("ok" or "error") and latency.
func (m *Metrics) EvaluationFinished(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, -1)
	m.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.evaluationDuration.Record(ctx, d.Seconds())
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", string(stage))))
}

// RecordAudio records the length of a submitted answer in seconds.
func (m *Metrics) RecordAudio(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.audioDuration.Record(ctx, seconds)
}

// RecordScore counts an awarded rubric level.
func (m *Metrics) RecordScore(ctx context.Context, level int) {
	if m == nil {
		return
	}
	m.scores.Add(ctx, 1, metric.WithAttributes(attribute.String("level", strconv.Itoa(level))))
}

// RecordCorrection counts n transcript substitutions made by method.
func (m *Metrics) RecordCorrection(ctx context.Context, method string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.corrections.Add(ctx, int64(n), metric.WithAttributes(attribute.String("method", method)))
}

// RecordProviderRequest counts one provider call. status is "ok", "error",
// "rejected" or "circuit_open"; "error" also counts a provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.providerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	if status == "error" {
		m.providerErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
}

// RecordHTTPRequest records the latency of one served request. route is the
// matched ServeMux pattern.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", route),
		attribute.String("status", strconv.Itoa(status)),
	))
}
