package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the gateway.
	// 0 ignores X-Forwarded-For entirely, 1 takes the rightmost entry (a
	// single load balancer), 2 the second from the end, and so on.
	TrustedHops int
}

// ClientIP stores the peer address in the context without trusting any
// forwarded headers.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions resolves the client address once per request. Rate
// limiting and logging read the result with ClientIPFromContext.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// stripForwarded removes headers a client could forge, so later middleware
// (schemeFromRequest in particular) never sees them.
func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// extractRealClientAddr returns the client address. Forwarded headers count
// only when the peer is a private address and trustedHops > 0; in every
// other case they are stripped and the peer address wins.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		stripForwarded(r)
		return "0.0.0.0"
	}

	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		stripForwarded(r)
		return r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		stripForwarded(r)
		return "0.0.0.0"
	}

	// loopback and link-local are not IsPrivate, so they never vouch for XFF
	if !ip.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return peer
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return peer
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies: misconfigured or forged, fail closed
		stripForwarded(r)
		return peer
	}
	if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
		return candidate
	}
	return peer
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
