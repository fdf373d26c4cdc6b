// Package observe provides application-wide observability primitives for
// npcvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all npcvoice metrics.
const meterName = "github.com/MrWong99/npcvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ResolveDuration tracks voice resolution latency.
	ResolveDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each clip occupied the audio sink.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Resolutions counts successful resolutions. Use with attribute:
	//   attribute.String("step", ...)
	Resolutions metric.Int64Counter

	// ResolveFailures counts resolutions that found no voice.
	ResolveFailures metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// DialogueLines counts dialogue lines by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	DialogueLines metric.Int64Counter

	// CatalogueRefreshes counts voice catalogue refreshes. Use with attribute:
	//   attribute.String("status", ...)
	CatalogueRefreshes metric.Int64Counter

	// --- Gauges ---

	// PlaybackQueueDepth tracks the number of clips waiting for the sink.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// CatalogueSize is the number of voices in the current catalogue.
	CatalogueSize metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds).
var latencyBuckets = []float64{
	0.0005, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("npcvoice.resolve.duration",
		metric.WithDescription("Latency of voice resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("npcvoice.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("npcvoice.playback.duration",
		metric.WithDescription("Time each clip spent playing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Resolutions, err = m.Int64Counter("npcvoice.resolutions",
		metric.WithDescription("Total successful voice resolutions by deciding step."),
	); err != nil {
		return nil, err
	}
	if met.ResolveFailures, err = m.Int64Counter("npcvoice.resolve.failures",
		metric.WithDescription("Total resolutions that found no voice."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("npcvoice.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("npcvoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.DialogueLines, err = m.Int64Counter("npcvoice.dialogue.lines",
		metric.WithDescription("Total dialogue lines by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CatalogueRefreshes, err = m.Int64Counter("npcvoice.catalogue.refreshes",
		metric.WithDescription("Total voice catalogue refreshes by status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("npcvoice.playback.queue_depth",
		metric.WithDescription("Number of clips waiting for playback."),
	); err != nil {
		return nil, err
	}
	if met.CatalogueSize, err = m.Int64Gauge("npcvoice.catalogue.size",
		metric.WithDescription("Number of voices in the current catalogue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("npcvoice.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordResolution records a successful resolution decided by step.
func (m *Metrics) RecordResolution(ctx context.Context, step string, seconds float64) {
	m.Resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	m.ResolveDuration.Record(ctx, seconds)
}

// RecordResolveFailure records a resolution that found no voice.
func (m *Metrics) RecordResolveFailure(ctx context.Context, seconds float64) {
	m.ResolveFailures.Add(ctx, 1)
	m.ResolveDuration.Record(ctx, seconds)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDialogueLine counts one dialogue line with the given outcome
// ("spoken", "skipped", "duplicate", "failed").
func (m *Metrics) RecordDialogueLine(ctx context.Context, outcome string) {
	m.DialogueLines.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCatalogueRefresh counts a refresh and, on success, publishes the new
// catalogue size.
func (m *Metrics) RecordCatalogueRefresh(ctx context.Context, status string, size int) {
	m.CatalogueRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == "ok" {
		m.CatalogueSize.Record(ctx, int64(size))
	}
}
