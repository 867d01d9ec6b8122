package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newRecordingSpan creates a context with a real recording span for testing.
func newRecordingSpan(t *testing.T, name string) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, _ := tp.Tracer("test").Start(context.Background(), name)
	return ctx, sr
}

// endedSpan ends the span in ctx and returns its snapshot.
func endedSpan(t *testing.T, ctx context.Context, sr *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	trace.SpanFromContext(ctx).End()
	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func routeAttr(s sdktrace.ReadOnlySpan) (string, bool) {
	for _, a := range s.Attributes() {
		if a.Key == attribute.Key("http.route") {
			return a.Value.AsString(), true
		}
	}
	return "", false
}

func TestAnnotateHTTPRoute_WithChiRouter(t *testing.T) {
	ctx, sr := newRecordingSpan(t, "initial")

	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/downloads/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/frontend01", http.NoBody).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	s := endedSpan(t, ctx, sr)
	if s.Name() != "GET /downloads/{slug}" {
		t.Fatalf("span name = %q", s.Name())
	}
	if v, ok := routeAttr(s); !ok || v != "/downloads/{slug}" {
		t.Fatalf("http.route = %q (present %v)", v, ok)
	}
}

func TestAnnotateHTTPRoute_NoRouteContextUsesUnmatched(t *testing.T) {
	ctx, sr := newRecordingSpan(t, "initial")

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	req := httptest.NewRequest(http.MethodGet, "/downloads/../../etc/passwd", http.NoBody).WithContext(ctx)
	AnnotateHTTPRoute(handler).ServeHTTP(httptest.NewRecorder(), req)

	if !handlerCalled {
		t.Fatal("handler not called")
	}
	s := endedSpan(t, ctx, sr)
	if s.Name() != "GET unmatched" {
		t.Fatalf("span name = %q, raw path must not appear", s.Name())
	}
}

func TestAnnotateHTTPRoute_NoSpan(t *testing.T) {
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	AnnotateHTTPRoute(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))

	if !handlerCalled {
		t.Fatal("handler not called without span")
	}
}
