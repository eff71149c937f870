package telemetry

import (
	"b3hybrid/config"
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type telemetryImpl struct {
	tracer trace.Tracer
	logger log.Logger
}

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry sets up OTLP trace and log export. It returns a nil Telemetry
// when no collector endpoint is configured; consumers fall back to no-ops.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if !p.Config.TelemetryEnabled() {
		return nil, nil
	}
	telemetryCtx, cancel := context.WithCancel(context.Background())

	tracerExp, err := otlptracegrpc.New(telemetryCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		attribute.String("service.name", p.Config.ServiceName),
	)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(tracerExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// The log exporter is still beta, a failure here only disables log export.
	var logProvider *sdklog.LoggerProvider
	var logger log.Logger
	if logExp, err := otlploggrpc.New(telemetryCtx); err == nil {
		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)
		logger = logProvider.Logger(p.Config.ServiceName)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			traceProvider.Shutdown(ctx)
			if logProvider != nil {
				logProvider.Shutdown(ctx)
			}
			return nil
		},
	})

	return &telemetryImpl{traceProvider.Tracer(p.Config.ServiceName), logger}, nil
}

func (t *telemetryImpl) GetTracer() trace.Tracer {
	return t.tracer
}

func (t *telemetryImpl) GetLogger() log.Logger {
	return t.logger
}
