package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attributes identifying the bot instance.
const (
	AttrApplicationID = "parley.discord.application_id"
	AttrGuildID       = "parley.discord.guild_id"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "parley".
	ServiceName    string
	ServiceVersion string

	// ApplicationID is the Discord application the bot runs as. Several bots
	// scraped by one Prometheus are told apart by it.
	ApplicationID string

	// GuildID is set when commands are registered for a single guild.
	GuildID string

	// TraceExporter receives finished spans. Nil keeps spans in-process:
	// correlation IDs and trace-aware logs still work, nothing is exported.
	TraceExporter sdktrace.SpanExporter
}

// NewResource describes the bot instance for metrics and traces.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "parley"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.ApplicationID != "" {
		attrs = append(attrs, attribute.String(AttrApplicationID, cfg.ApplicationID))
	}
	if cfg.GuildID != "" {
		attrs = append(attrs, attribute.String(AttrGuildID, cfg.GuildID))
	}
	// Schemaless so the SDK default's schema URL wins on merge.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}
	return res, nil
}

// InitProvider installs global meter and tracer providers. Metrics are
// served by the Prometheus exporter on the default registry, which the ops
// server exposes at /metrics. The returned function flushes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
