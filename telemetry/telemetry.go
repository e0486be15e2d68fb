// Package telemetry wires a capsule's supervisor lifecycle events to
// OpenTelemetry tracing when a collector endpoint is configured, per
// spec.md §2.G. Unconfigured, every span produced against the default
// global TracerProvider is a free no-op: tracing is strictly optional.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// EndpointEnv names the environment variable that, when set to a
// `host:port`, points the supervisor's tracing at an OTLP/gRPC collector.
const EndpointEnv = "CAPSULE_OTEL_ENDPOINT"

// TracerName identifies this module's spans in whatever backend receives
// them.
const TracerName = "github.com/capsulerun/capsule/supervisor"

// Init configures the global TracerProvider for one supervisor's lifetime,
// tagging every span with serviceName and buildID. If endpoint is empty, it
// leaves the default no-op provider in place and returns a shutdown func
// that does nothing.
func Init(ctx context.Context, serviceName, buildID, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", buildID),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the supervisor's tracer against whatever provider Init
// configured, or the default no-op provider if tracing was never enabled.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
