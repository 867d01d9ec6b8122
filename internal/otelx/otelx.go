// Package otelx installs the global OpenTelemetry tracer provider and
// propagator for the gateway.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

const (
	DefaultService = "careerbooks"
	dialTimeout    = 3 * time.Second
)

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
	// UserAgent is sent on the collector connection.
	UserAgent string
}

func (o Options) serviceName() string {
	svc := o.Service
	if svc == "" {
		svc = DefaultService
	}
	if o.Component == "" {
		return svc
	}
	return svc + "." + o.Component
}

func (o Options) validate() error {
	if o.Endpoint == "" {
		return xerrors.New("otel: endpoint is required when tracing is enabled")
	}
	if o.Sample < 0 || o.Sample > 1 {
		return xerrors.Newf("otel: sample ratio %v outside [0,1]", o.Sample)
	}
	return nil
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

func exporterOptions(o Options) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if o.UserAgent != "" {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.UserAgent)))
	}
	return opts
}

// Init installs a tracer provider. When tracing is disabled it still installs
// an SDK provider with no exporter, so spans get real IDs for the
// X-Trace-Id response header and log correlation. The returned func flushes
// and stops the provider.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	setPropagator()

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	opts := exporterOptions(o)

	// the exporter talks to a local collector; don't let a missing one
	// block startup
	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otel: create otlp exporter for %s", o.Endpoint)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.serviceName()),
			semconv.ServiceNamespaceKey.String(DefaultService),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	if err != nil {
		// partial resources are still usable
		log.FromContext(ctx).Warn(ctx, "otel resource detection incomplete", "error", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.FromContext(ctx).Info(ctx, "otel tracing enabled",
		"endpoint", o.Endpoint,
		"service", o.serviceName(),
		"sample", o.Sample,
	)
	return tp.Shutdown, nil
}
