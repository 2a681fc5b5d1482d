package observe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"listing-bot/version"
)

var instanceId string

func init() {
	instanceId = uuid.NewString()
}

func Options() *options {
	return &options{
		resource: resource.Default(),
	}
}

type options struct {
	err            error
	resource       *resource.Resource
	tracerProvider *trace.TracerProvider
	meterProvider  *metric.MeterProvider
	runtimeMetrics bool
}

func (o *options) handleErr(optionErr error) {
	o.err = errors.Join(o.err, optionErr)
}

// SetupOTelSDK bootstraps the OpenTelemetry pipeline globally.
// If it does not return an error, make sure to call shutdown for proper cleanup.
func SetupOTelSDK(ctx context.Context, opts *options) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	// shutdown calls cleanup functions registered via shutdownFuncs.
	// The errors from the calls are joined.
	// Each registered cleanup will be invoked once.
	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	if opts.err != nil {
		return shutdown, opts.err
	}

	otel.SetTextMapPropagator(newPropagator())

	if opts.tracerProvider != nil {
		shutdownFuncs = append(shutdownFuncs, opts.tracerProvider.Shutdown)
		otel.SetTracerProvider(opts.tracerProvider)
	}

	if opts.meterProvider != nil {
		shutdownFuncs = append(shutdownFuncs, opts.meterProvider.Shutdown)
		otel.SetMeterProvider(opts.meterProvider)
	}

	if opts.runtimeMetrics {
		if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
			return shutdown, errors.Join(err, shutdown(ctx))
		}
	}

	return shutdown, nil
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// EnableTraceProvider exports spans over OTLP/HTTP. An empty endpoint falls
// back to the OTEL_EXPORTER_OTLP_* environment variables.
func (opts *options) EnableTraceProvider(endpoint string, insecure bool) *options {
	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithCompression(otlptracehttp.GzipCompression)}
	if endpoint != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpoint(endpoint))
	}
	if insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(context.Background(), exporterOpts...)
	if err != nil {
		opts.handleErr(err)
		return opts
	}

	opts.tracerProvider = trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
		trace.WithBatcher(traceExporter),
		trace.WithResource(opts.resource),
	)
	return opts
}

// EnableMeterProvider exposes metrics through the default prometheus
// registry, served on /metrics.
func (opts *options) EnableMeterProvider() *options {
	exporter, err := prometheus.New()
	if err != nil {
		opts.handleErr(err)
		return opts
	}

	opts.meterProvider = metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(opts.resource),
	)
	return opts
}

// EnableRuntimeMetrics records go runtime metrics with the global meter
// provider.
func (opts *options) EnableRuntimeMetrics() *options {
	opts.runtimeMetrics = true
	return opts
}

// see https://opentelemetry.io/docs/specs/semconv/resource/
func (opts *options) WithService(serviceName, namespace string) *options {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Version),
			semconv.ServiceNamespace(namespace),
			semconv.ServiceInstanceID(instanceId),
		),
	)
	if err != nil {
		opts.handleErr(err)
	}

	opts.resource = res
	return opts
}
