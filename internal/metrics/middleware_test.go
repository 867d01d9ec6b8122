package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func routeLabels(t *testing.T, m *ServerMetrics) map[string]string {
	t.Helper()
	return labelsOf(t, m.reg, "http_requests_total")
}

// statusWriter

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusInternalServerError) // superfluous, ignored for labels
	sw.Write([]byte("aaa"))
	sw.Write([]byte("bbbbb"))

	if sw.status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", sw.status)
	}
	if sw.n != 8 {
		t.Fatalf("bytes = %d, want 8", sw.n)
	}
}

func TestStatusWriter_WriteDefaultsTo200(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	sw.Write([]byte("hello"))
	if sw.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", sw.status)
	}
}

func TestStatusWriter_FlushesThroughController(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	sw.Write([]byte("chunk"))
	if err := http.NewResponseController(sw).Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("flush did not reach the underlying writer")
	}
}

// Middleware

func TestMiddleware_Labels(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/downloads/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/downloads/frontend01", http.NoBody))

	labels := routeLabels(t, m)
	if labels["route"] != "/downloads/{slug}" || labels["status"] != "403" || labels["method"] != "GET" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestMiddleware_FallsBackToUnmatched(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/x.php", http.NoBody))

	labels := routeLabels(t, m)
	if labels["route"] != "unmatched" {
		t.Fatalf("route = %q, want unmatched", labels["route"])
	}
	if labels["status"] != "200" {
		t.Fatalf("status = %q, want 200 (handler wrote nothing)", labels["status"])
	}
}

func TestMiddleware_RouteFromContextKey(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), routeKey, "/static"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := routeLabels(t, m)["route"]; got != "/static" {
		t.Fatalf("route = %q, want /static", got)
	}
}

func TestMiddleware_InflightGauge(t *testing.T) {
	m := New()

	var during float64
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = gaugeValue(t, m.reg, "http_inflight_requests")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if during != 1 {
		t.Fatalf("inflight during request = %f, want 1", during)
	}
	if after := gaugeValue(t, m.reg, "http_inflight_requests"); after != 0 {
		t.Fatalf("inflight after request = %f, want 0", after)
	}
}

func TestMiddleware_DurationAndSize(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	}

	if c := histogramCount(t, m.reg, "http_request_duration_seconds"); c != 3 {
		t.Fatalf("duration count = %d, want 3", c)
	}
	h := firstMetric(t, m.reg, "http_response_size_bytes").GetHistogram()
	if h.GetSampleSum() != 33 {
		t.Fatalf("response size sum = %f, want 33", h.GetSampleSum())
	}
}

func TestMiddleware_RecordsAbortedStream(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		panic(http.ErrAbortHandler)
	}))

	func() {
		defer func() {
			if v := recover(); v != http.ErrAbortHandler {
				t.Fatalf("recovered %v, want ErrAbortHandler", v)
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	}()

	if got := counterValue(t, m.reg, "http_requests_total"); got != 1 {
		t.Fatalf("http_requests_total = %f, want 1", got)
	}
	if got := gaugeValue(t, m.reg, "http_inflight_requests"); got != 0 {
		t.Fatalf("inflight = %f, want 0 after abort", got)
	}
}

func TestMiddleware_CreatesRouteContext(t *testing.T) {
	m := New()

	var hasRouteCtx bool
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasRouteCtx = chi.RouteContext(r.Context()) != nil
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !hasRouteCtx {
		t.Fatal("middleware should inject chi route context when missing")
	}
}

// traceExemplar

func spanCtx(flags trace.TraceFlags) context.Context {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: flags})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceExemplar(t *testing.T) {
	if got := traceExemplar(spanCtx(trace.FlagsSampled)); got["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("sampled exemplar = %v", got)
	}
	if got := traceExemplar(spanCtx(0)); got != nil {
		t.Fatal("non-sampled trace should not produce exemplar")
	}
	if got := traceExemplar(context.Background()); got != nil {
		t.Fatal("no trace context should return nil")
	}
	if got := traceExemplar(trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})); got != nil {
		t.Fatal("invalid span context should return nil")
	}
}
