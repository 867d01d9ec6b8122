package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// Recover turns a handler panic into a logged 500. http.ErrAbortHandler is
// re-panicked untouched; the download controller uses it to cut a connection
// whose status is already sent.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				var err error
				if e, ok := v.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", v)
				}

				ctx := r.Context()
				logger.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(ctx),
				).Error(ctx, err, "httpserver panic recovered", "stack", string(debug.Stack()))

				if onPanic != nil {
					onPanic()
				}
				fault.WriteJSON(w, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
