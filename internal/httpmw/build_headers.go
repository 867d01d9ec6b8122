package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BuildHeaders adds X-Build-Version and X-Build-Commit to every response so
// client bug reports can name the deployed build. The commit is shortened to
// 12 characters. Empty values are omitted.
func BuildHeaders(ver, commit string) func(http.Handler) http.Handler {
	short := commit
	if len(short) > 12 {
		short = short[:12]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ver != "" {
				w.Header().Set("X-Build-Version", ver)
			}
			if short != "" {
				w.Header().Set("X-Build-Commit", short)
			}
			if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
				if ver != "" {
					span.SetAttributes(attribute.String("service.version", ver))
				}
				if commit != "" {
					span.SetAttributes(attribute.String("vcs.revision", commit))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
