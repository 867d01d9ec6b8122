package httpmw

import "net/http"

// MaxBody caps request bodies. Only the admin purchase endpoint reads one;
// decoding past the limit fails and the handler answers 400.
func MaxBody(bytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, bytes)
			next.ServeHTTP(w, r)
		})
	}
}
