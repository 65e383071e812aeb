package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability exposes pipeline-level OpenTelemetry metrics through the
// Prometheus exporter.
type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	intentCounter  otelmetric.Int64Counter
	intentDuration otelmetric.Float64Histogram
	stageDuration  otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	intentCounter, _ := meter.Int64Counter(
		"intents.processed",
		otelmetric.WithDescription("Number of intents processed by terminal status"),
	)

	intentDuration, _ := meter.Float64Histogram(
		"intents.duration",
		otelmetric.WithDescription("End-to-end intent processing duration"),
		otelmetric.WithUnit("ms"),
	)

	stageDuration, _ := meter.Float64Histogram(
		"intents.stage.duration",
		otelmetric.WithDescription("Per-stage processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:  provider,
		meter:          meter,
		intentCounter:  intentCounter,
		intentDuration: intentDuration,
		stageDuration:  stageDuration,
	}
}

// RecordIntentProcessed counts one terminal intent outcome.
func (o *Observability) RecordIntentProcessed(ctx context.Context, status string, kind string) {
	if o.intentCounter != nil {
		o.intentCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
			attribute.String("kind", kind),
		))
	}
}

// RecordIntentDuration records end-to-end latency for one intent.
func (o *Observability) RecordIntentDuration(ctx context.Context, d time.Duration, status string) {
	if o.intentDuration != nil {
		o.intentDuration.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordStageDuration records latency for one pipeline stage.
func (o *Observability) RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if o.stageDuration != nil {
		o.stageDuration.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("stage", stage),
		))
	}
}

// Shutdown flushes the meter provider.
func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
