// Package tracing wires OpenTelemetry into the MediaWiki client. Every API
// call becomes a mediawiki.api.<action> span and every MCP tool invocation a
// mcp.tool.<name> span.
package tracing

import (
	"context"
	"io"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer all client spans come from.
const TracerName = "mediawiki-api-go"

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	OTLPEndpoint   string // OTLP/HTTP collector; empty exports to Writer
	SampleRate     float64

	// Writer receives pretty-printed spans when no OTLP endpoint is set.
	// Defaults to stderr, since stdout carries the MCP protocol.
	Writer io.Writer
}

// DefaultConfig reads tracing settings from the OTEL_* environment variables.
func DefaultConfig() Config {
	sampleRate := 1.0
	if s := os.Getenv("OTEL_SAMPLE_RATE"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			sampleRate = f
		}
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	return Config{
		ServiceName:    getEnvOrDefault("OTEL_SERVICE_NAME", TracerName),
		ServiceVersion: "1.0.0",
		Environment:    getEnvOrDefault("OTEL_ENVIRONMENT", "development"),
		Enabled:        os.Getenv("OTEL_ENABLED") == "true" || endpoint != "",
		OTLPEndpoint:   endpoint,
		SampleRate:     sampleRate,
	}
}

// Setup installs a global tracer provider and returns its shutdown function.
// With tracing disabled nothing is installed and shutdown is a no-op.
func Setup(ctx context.Context, config Config) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(config)
	if err != nil {
		return nil, err
	}
	exporter, err := newExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(config.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// newResource describes this service on top of the SDK defaults. The
// service attributes carry no schema URL, so they merge with whatever
// schema the SDK version in use declares.
func newResource(config Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
}

func newExporter(ctx context.Context, config Config) (sdktrace.SpanExporter, error) {
	if config.OTLPEndpoint != "" {
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	w := config.Writer
	if w == nil {
		w = os.Stderr
	}
	return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
}

// newSampler maps a rate to a sampler: 1 or more samples everything, 0 or
// less nothing. A parent's decision is followed either way.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the named tracer for the client
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span on the client tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// AddToolAttributes tags an MCP tool span.
func AddToolAttributes(span trace.Span, toolName, category string) {
	span.SetAttributes(
		attribute.String("mcp.tool.name", toolName),
		attribute.String("mcp.tool.category", category),
	)
}

// AddAPIAttributes describes one Action API request on a span.
func AddAPIAttributes(span trace.Span, action, method string, params int) {
	span.SetAttributes(
		attribute.String("mediawiki.api.action", action),
		attribute.String("http.request.method", method),
		attribute.Int("mediawiki.api.params", params),
	)
}

// AddResponseAttributes records the HTTP status and body size of a response.
func AddResponseAttributes(span trace.Span, status, size int) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Int("http.response.body.size", size),
	)
}

// RecordError marks the span failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
