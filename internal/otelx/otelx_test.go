package otelx

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Disabled path

func TestInit_Disabled_ShutdownIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestInit_Disabled_SetsSDKProvider(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	tp := otel.GetTracerProvider()
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", tp)
	}

	// spans carry real IDs so X-Trace-Id can be emitted without an exporter
	_, span := otel.Tracer("test").Start(context.Background(), "download.stream")
	defer span.End()
	if !span.SpanContext().TraceID().IsValid() {
		t.Fatal("disabled provider produced an invalid trace id")
	}
}

func TestInit_Disabled_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fieldSet := make(map[string]bool)
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fieldSet[f] = true
	}
	for _, want := range []string{"traceparent", "tracestate", "baggage"} {
		if !fieldSet[want] {
			t.Errorf("propagator missing %s field", want)
		}
	}
}

func TestInit_Disabled_IgnoresInvalidOptions(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{
		Enabled: false,
		Sample:  99.9,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

// Enabled - validation

func TestInit_Enabled_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"missing endpoint", Options{Enabled: true, Sample: 0.1}, "endpoint is required"},
		{"negative sample", Options{Enabled: true, Endpoint: "localhost:4317", Sample: -0.1}, "sample ratio"},
		{"sample above one", Options{Enabled: true, Endpoint: "localhost:4317", Sample: 1.5}, "sample ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Init(context.Background(), tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if shutdown != nil {
				t.Fatal("shutdown should be nil on error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestServiceName(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{}, "careerbooks"},
		{Options{Component: "gateway"}, "careerbooks.gateway"},
		{Options{Service: "books", Component: "gateway"}, "books.gateway"},
		{Options{Service: "books"}, "books"},
	}
	for _, tt := range tests {
		if got := tt.opts.serviceName(); got != tt.want {
			t.Errorf("serviceName(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		opts Options
		want int
	}{
		{Options{Endpoint: "localhost:4317"}, 1},
		{Options{Endpoint: "localhost:4317", Insecure: true}, 2},
		{Options{Endpoint: "localhost:4317", Insecure: true, UserAgent: "careerbooks-gateway/dev"}, 3},
	}
	for _, tt := range tests {
		if got := len(exporterOptions(tt.opts)); got != tt.want {
			t.Errorf("exporterOptions(%+v) = %d options, want %d", tt.opts, got, tt.want)
		}
	}
}

// Enabled path - timeout

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// gRPC defers connecting, so an unreachable collector must not stall
	// startup beyond the dial timeout.
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Component: "gateway",
		Version:   "v0.0.0-test",
	})
	elapsed := time.Since(start)
	if elapsed > 15*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Logf("shutdown error (expected with no collector): %v", err)
	}
}
