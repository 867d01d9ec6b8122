package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
)

// TraceResponseHeaders copies the server span ids onto the response so a
// failed download a customer reports can be found in the trace backend.
// Headers are set before next runs; a streamed body commits them on the
// first write.
func TraceResponseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
			w.Header().Set(SpanIDHeader, sc.SpanID().String())
		}
		next.ServeHTTP(w, r)
	})
}
