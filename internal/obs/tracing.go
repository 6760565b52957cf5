package obs

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this service in traces when no name is configured.
const ServiceName = "toko-checkout"

const instrumentationPrefix = "github.com/noah-isme/toko-checkout/"

// TracingConfig controls tracer provider initialisation.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is a full OTLP/HTTP URL; empty falls back to the OTEL_EXPORTER_OTLP_* env.
	Endpoint      string
	SamplingRatio float64
	Environment   string
	// OriginCityCode and Currency tag every span so traces from differently
	// configured storefronts can be told apart.
	OriginCityCode string
	Currency       string
}

// TracingResource describes this checkout instance.
func TracingResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = ServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	if cfg.OriginCityCode != "" {
		attrs = append(attrs, attribute.String("checkout.origin_city_code", cfg.OriginCityCode))
	}
	if cfg.Currency != "" {
		attrs = append(attrs, attribute.String("checkout.currency", cfg.Currency))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

// InitTracer installs a global OTLP/HTTP tracer provider and returns its shutdown
// function. Sampling follows the caller's decision when a traceparent arrives with
// the request.
func InitTracer(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	var opts []otlptracehttp.Option
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	res, err := TracingResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ratio := cfg.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Tracer returns the tracer for one component of this service, e.g. "http" or "notify".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}
