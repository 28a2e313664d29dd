// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Init] wires a
// Prometheus exporter so they can be scraped from /metrics. [DefaultMetrics]
// records into the global meter provider; tests should use [NewMetrics] with
// their own [metric.MeterProvider].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Pipeline stage names used as the "stage" attribute.
const (
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
)

// Metrics holds the instruments parley records into. Instruments are safe
// for concurrent use.
type Metrics struct {
	// StageDuration tracks how long each pipeline stage took. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// StageErrors counts recoverable stage failures by stage.
	StageErrors metric.Int64Counter

	// FirstAudio tracks the delay from end of user speech to the first
	// synthesised audio chunk.
	FirstAudio metric.Float64Histogram

	// Turns counts committed turns. Use with attribute.String("speaker", ...).
	Turns metric.Int64Counter

	// BargeIns counts replies cut short by the user speaking.
	BargeIns metric.Int64Counter

	// EchoesSuppressed counts transcripts discarded as the agent's own voice.
	EchoesSuppressed metric.Int64Counter

	// FramesDropped counts capture frames discarded because segmentation fell
	// behind.
	FramesDropped metric.Int64Counter

	// StateTransitions counts orchestrator state changes. Use with attributes
	// "from" and "to".
	StateTransitions metric.Int64Counter

	// ContextTurns reports the number of turns currently retained.
	ContextTurns metric.Int64Gauge

	// ProviderRequests counts provider calls by "provider", "kind" and
	// "status".
	ProviderRequests metric.Int64Counter

	// ProviderDuration tracks provider call latency by provider and kind.
	ProviderDuration metric.Float64Histogram

	// HTTPRequestDuration is the status server latency by "route" and "code".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bounds in seconds, sized for a spoken turn.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// instruments creates instruments on one meter and keeps every creation
// error, so NewMetrics can report them together.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) latency(name, desc string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		StageDuration: in.latency("parley.stage.duration", "Latency of a turn pipeline stage.", latencyBuckets...),
		FirstAudio:    in.latency("parley.turn.first_audio", "Delay from end of user speech to first reply audio.", latencyBuckets...),
		StageErrors:   in.counter("parley.stage.errors", "Recoverable pipeline stage failures by stage."),
		Turns:         in.counter("parley.turns", "Committed conversation turns by speaker."),
		BargeIns:      in.counter("parley.bargeins", "Replies interrupted by user speech."),

		EchoesSuppressed: in.counter("parley.echoes.suppressed", "Transcripts discarded as playback echo."),
		FramesDropped:    in.counter("parley.frames.dropped", "Capture frames dropped because segmentation fell behind."),
		StateTransitions: in.counter("parley.state.transitions", "Orchestrator state transitions by source and target state."),
		ContextTurns:     in.gauge("parley.context.turns", "Number of turns retained in the conversation context."),

		ProviderRequests: in.counter("parley.provider.requests", "Provider calls by provider, kind and status."),
		ProviderDuration: in.latency("parley.provider.duration", "Latency of provider calls by provider and kind.", latencyBuckets...),

		HTTPRequestDuration: in.latency("parley.http.request.duration", "Status server request latency by route and status code."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordStageError counts one recoverable failure of stage.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordTurn counts one committed turn.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordTransition counts one state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

// RecordProviderRequest counts one provider call and records its latency.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string, d time.Duration) {
	who := []attribute.KeyValue{attribute.String("provider", provider), attribute.String("kind", kind)}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(append(who, attribute.String("status", status))...))
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(who...))
}
