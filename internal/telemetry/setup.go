// ABOUTME: Builds the OpenTelemetry tracer and meter providers for the server.
// ABOUTME: Exports traces and metrics over OTLP/HTTP when an endpoint is configured.

package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/2389/stampchain-mcp"

// Config mirrors the telemetry section of the server config.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
}

// Providers bundles the providers and the observer built from them.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Observer *Observer

	shutdown []func(context.Context) error
}

// Shutdown flushes and stops the SDK providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup creates providers for cfg. With telemetry disabled, it returns
// no-op instruments so callers never need nil checks.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		tracer := tracenoop.NewTracerProvider().Tracer(instrumentationName)
		meter := metricnoop.NewMeterProvider().Meter(instrumentationName)
		obs, err := NewObserver(meter, tracer)
		if err != nil {
			return nil, err
		}
		return &Providers{Tracer: tracer, Meter: meter, Observer: obs}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "stampchain-mcp"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		traceExpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		metricExpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			traceExpOpts = append(traceExpOpts, otlptracehttp.WithInsecure())
			metricExpOpts = append(metricExpOpts, otlpmetrichttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExpOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExpOpts...)
		if err != nil {
			_ = traceExporter.Shutdown(ctx)
			return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	mp := sdkmetric.NewMeterProvider(metricOpts...)

	tracer := tp.Tracer(instrumentationName)
	meter := mp.Meter(instrumentationName)
	obs, err := NewObserver(meter, tracer)
	if err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}

	return &Providers{
		Tracer:   tracer,
		Meter:    meter,
		Observer: obs,
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}
