// Copyright 2025 James Ross
package obs

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingOptions controls the optional OTLP exporter.
type TracingOptions struct {
	Enabled      bool
	Endpoint     string
	Environment  string
	SamplingRate float64
}

// MaybeInitTracing optionally initializes a global tracer provider with
// sampling and W3C propagation. Returns nil when tracing is disabled.
func MaybeInitTracing(opts TracingOptions) (*sdktrace.TracerProvider, error) {
	if !opts.Enabled || opts.Endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("agent-runtime"),
		semconv.HostNameKey.String(hostname),
		attribute.String("environment", opts.Environment),
	)

	rate := opts.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// StartCapabilitySpan opens a span around one capability execution.
func StartCapabilitySpan(ctx context.Context, capabilityID, modelID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("model")
	return tracer.Start(ctx, "capability.execute",
		trace.WithAttributes(
			attribute.String("capability.id", capabilityID),
			attribute.String("model.id", modelID),
		))
}

// StartStepSpan opens a span around one pipeline step.
func StartStepSpan(ctx context.Context, pluginID, action string) (context.Context, trace.Span) {
	tracer := otel.Tracer("engine")
	return tracer.Start(ctx, "pipeline.step",
		trace.WithAttributes(
			attribute.String("plugin.id", pluginID),
			attribute.String("step.action", action),
		))
}

// RecordError marks the active span as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the active span as successful.
func SetSpanSuccess(ctx context.Context) {
	trace.SpanFromContext(ctx).SetStatus(codes.Ok, "")
}
