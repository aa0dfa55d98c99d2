// Package metrics exports the service's OpenTelemetry instruments. All
// recording methods are safe on a nil receiver so callers never guard on
// whether metrics are enabled.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/smallbiznis/memberly/internal/config"
)

// NewMeterProvider builds the OTLP-backed meter provider, or returns nil
// when metrics are disabled.
func NewMeterProvider(ctx context.Context, cfg config.Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.MetricsEnabled {
		return nil, nil
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch cfg.MetricsExporter {
	case "http":
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AppName),
		semconv.ServiceVersion(cfg.AppVersion),
	))
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	), nil
}

// Metrics carries the service-level instruments.
type Metrics struct {
	webhookEvents metric.Int64Counter
	sweepMembers  metric.Int64Counter
	cacheReads    metric.Int64Counter
}

// New registers the instruments on the provider. A nil provider yields a nil
// Metrics, which records nothing.
func New(provider *sdkmetric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter("memberly")

	webhookEvents, err := meter.Int64Counter("webhook_events_total",
		metric.WithDescription("Inbound webhook deliveries by provider and result."))
	if err != nil {
		return nil, err
	}
	sweepMembers, err := meter.Int64Counter("reconcile_members_total",
		metric.WithDescription("Members processed by the reconciliation sweep, by result."))
	if err != nil {
		return nil, err
	}
	cacheReads, err := meter.Int64Counter("analytics_cache_reads_total",
		metric.WithDescription("Analytics cache reads split into hits and misses."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents: webhookEvents,
		sweepMembers:  sweepMembers,
		cacheReads:    cacheReads,
	}, nil
}

// IncWebhookEvent counts one inbound delivery outcome.
func (m *Metrics) IncWebhookEvent(ctx context.Context, provider, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
}

// AddSweepMembers counts sweep outcomes for one pass.
func (m *Metrics) AddSweepMembers(ctx context.Context, result string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.sweepMembers.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("result", result),
	))
}

// IncCacheRead counts one analytics cache hit or miss.
func (m *Metrics) IncCacheRead(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheReads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}
