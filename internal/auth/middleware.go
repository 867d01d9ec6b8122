package auth

import (
	"net/http"

	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/log"
)

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context for downstream handlers.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			c, err := v.Verify(ctx, r.Header.Get("Authorization"))
			if err != nil {
				log.FromContext(ctx).Warn(ctx, "token rejected",
					"reason", string(fault.ReasonOf(err)),
					"cause", err.Error(),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="careerbooks"`)
				fault.WriteJSON(w, err)
				return
			}
			ctx = WithClaims(ctx, c)
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("subject", c.Subject, "role", string(c.Role)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminMiddleware gates a route on the admin role. It must run after
// Middleware.
func (v *Verifier) RequireAdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c, ok := ClaimsFrom(ctx)
		if !ok {
			fault.WriteJSON(w, errMissing)
			return
		}
		if err := v.RequireAdmin(c); err != nil {
			log.FromContext(ctx).Warn(ctx, "admin route denied")
			fault.WriteJSON(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
