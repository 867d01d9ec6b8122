package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer so
// streamed downloads can flush through this middleware.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware measures inflight, total, duration, and size (safe labels).
type ctxKey string

const routeKey ctxKey = "route"

// unmatchedRoute labels requests no route matched, so arbitrary paths never
// become label values.
const unmatchedRoute = "unmatched"

func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if chi.RouteContext(r.Context()) == nil {
			rctx := chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

		m.inflight.Inc()
		sw := &statusWriter{ResponseWriter: w}

		// recorded in a defer so aborted downloads (panic with
		// http.ErrAbortHandler) are still counted
		defer func() {
			m.inflight.Dec()
			m.observe(r, sw, time.Since(start))
		}()

		next.ServeHTTP(sw, r)
	})
}

func (m *ServerMetrics) observe(r *http.Request, sw *statusWriter, elapsed time.Duration) {
	// Normalize default status (handlers that never Write/WriteHeader).
	statusCode := sw.status
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	method := r.Method
	ctx := r.Context()

	route := ""
	if rc := chi.RouteContext(ctx); rc != nil {
		route = rc.RoutePattern()
	}
	if route == "" {
		if s, ok := ctx.Value(routeKey).(string); ok && s != "" {
			route = s
		}
	}
	if route == "" {
		route = unmatchedRoute
	}

	m.reqTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	if statusCode >= http.StatusInternalServerError {
		m.errorsTotal.WithLabelValues(method, route).Inc()
	}

	lat := elapsed.Seconds()
	obs := m.reqDur.WithLabelValues(method, route)
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := obs.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(lat, ex)
		} else {
			obs.Observe(lat)
		}
	} else {
		obs.Observe(lat)
	}

	m.respBytes.WithLabelValues(method, route).Observe(float64(sw.n))
}

// if a sampled trace is present attach its trace_id as an exemplar
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
