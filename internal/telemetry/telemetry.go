// Package telemetry wires optional OpenTelemetry tracing. Tracing is off
// unless FELAY_TRACE_ENDPOINT names an OTLP/HTTP collector; routing spans
// then make the fan-out of one session observable.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// EndpointEnv selects the collector; empty disables tracing entirely.
const EndpointEnv = "FELAY_TRACE_ENDPOINT"

// Setup installs the global tracer provider. The returned shutdown func
// flushes pending spans; it is a no-op when tracing is disabled.
func Setup(ctx context.Context) (func(context.Context) error, error) {
	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the daemon's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("felay")
}
