// Package observe provides application-wide observability primitives for Sri:
// OpenTelemetry metrics, tracing, trace-aware logging and the instrumented
// HTTP server that exposes them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and scraped through
// [NewServer]'s /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sri metrics.
const meterName = "github.com/MrWong99/sri"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription latency across all language attempts.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency. Use with attribute:
	//   attribute.String("provider", ...)
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks key release to reply delivered.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Recordings counts finished capture sessions. Use with attribute:
	//   attribute.String("outcome", "accepted"|"too_short"|"no_audio"|"too_small")
	Recordings metric.Int64Counter

	// SpeechCharacters counts characters billed by the primary TTS.
	SpeechCharacters metric.Int64Counter

	// SpeechFallbacks counts utterances rendered by the fallback TTS. Use
	// with attribute:
	//   attribute.String("reason", "quota"|"rate_limited"|"error"|"circuit_open")
	SpeechFallbacks metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// VoiceConnections tracks live remote voice connections.
	VoiceConnections metric.Int64UpDownCounter

	// --- Observability server ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request/response voice pipeline stages.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "sri.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "sri.llm.duration", "Latency of reply generation."},
		{&met.TTSDuration, "sri.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.TurnDuration, "sri.turn.duration", "Latency from key release to delivered reply."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "sri.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "sri.provider.errors", "Total provider errors by provider and kind."},
		{&met.Recordings, "sri.recordings", "Finished push-to-talk recordings by outcome."},
		{&met.SpeechCharacters, "sri.speech.characters", "Characters billed by the primary speech provider."},
		{&met.SpeechFallbacks, "sri.speech.fallbacks", "Utterances rendered by the fallback speech provider."},
		{&met.BreakerTransitions, "sri.breaker.transitions", "Circuit breaker state transitions."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.VoiceConnections, err = m.Int64UpDownCounter("sri.voice.connections",
		metric.WithDescription("Number of live remote voice connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sri.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set. A non-nil err also increments ProviderErrors.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordRecording records the outcome of one capture session.
func (m *Metrics) RecordRecording(ctx context.Context, outcome string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSpeechFallback records one utterance diverted to the fallback TTS.
func (m *Metrics) RecordSpeechFallback(ctx context.Context, reason string) {
	m.SpeechFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}
