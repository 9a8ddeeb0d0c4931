// Package telemetry installs the OpenTelemetry tracer provider that the
// toolchain spans report to.
//
// The exporter is chosen from the environment:
//
//	RUSTY_TOOLS_TRACE_EXPORTER   none, stdout or otlp
//	OTEL_EXPORTER_OTLP_ENDPOINT  collector URL; selects otlp when no exporter is named
//	OTEL_SERVICE_NAME            service.name resource attribute (default rustytools)
//
// With no exporter spans are still created and sampled but go nowhere.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// ErrUnknownExporter is returned for an exporter name other than the ones
// above.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Config controls the tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	OTLPEndpoint   string    // used by the otlp exporter; empty uses the SDK defaults
	Writer         io.Writer // stdout exporter destination; nil means stderr
}

// ConfigFromEnv builds a Config from the environment.
func ConfigFromEnv(version string) Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	exporter := ExporterNone
	if endpoint != "" {
		exporter = ExporterOTLP
	}
	return Config{
		ServiceName:    getEnvOr("OTEL_SERVICE_NAME", "rustytools"),
		ServiceVersion: version,
		Exporter:       getEnvOr("RUSTY_TOOLS_TRACE_EXPORTER", exporter),
		OTLPEndpoint:   endpoint,
	}
}

// NewTracerProvider builds a TracerProvider for cfg without installing it.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			// stdout is the stdio MCP transport.
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		var grpcOpts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpointURL(cfg.OTLPEndpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Init builds the tracer provider for cfg and installs it globally. The
// caller must Shutdown the provider on exit to flush pending spans.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	tp, err := NewTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
