// Package httpserver assembles the public listener: the middleware chain
// around the chi router and the *http.Server that serves it.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taehunt/careerbooks-backend/internal/httpmw"
	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// DefaultMaxBodyBytes fits the largest body the API accepts, a purchase record.
const DefaultMaxBodyBytes = 4 << 10

// NewHandler builds the public handler. Wrapping order, outermost first:
// SecurityHeaders, BuildHeaders, Recover, RequestID, ClientIP, rate limit,
// otelhttp, TraceResponseHeaders, CORS, metrics, WithLogger, router.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	// JSON only: zip downloads are already compressed and must stream unbuffered
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBody))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeStatusJSON(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeStatusJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	if opts.Routes != nil {
		opts.Routes(r)
	}

	tracing := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			next,
			"http.server",
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.Method != http.MethodOptions && r.URL.Path != "/ping"
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				// AnnotateHTTPRoute renames the span to the route pattern
				return r.Method + " unmatched"
			}),
			otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
		)
	}

	var recoverMW Middleware
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}

	// nil entries are skipped
	return httpmw.Chain(r,
		// outermost so every response carries them, including 429 and 500
		httpmw.SecurityHeaders,
		httpmw.BuildHeaders(opts.BuildVersion, opts.BuildCommit),
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		// preflights are answered here and never reach the limiter, metrics
		// or the router; 429s still carry the allow headers
		opts.CORS,
		// rate limiting needs the resolved client IP
		opts.RateLimitMW,
		tracing,
		httpmw.TraceResponseHeaders,
		opts.MetricsMW,
		// request-scoped logger; inner so it sees trace ids and client IP
		httpmw.WithLogger(opts.Logger),
	)
}

func writeStatusJSON(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q,"message":%q}`, code, msg)
}

// Server timeouts. There is no write timeout: a download may legitimately
// take minutes, and upstream stalls are bounded by the upstream client.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultShutdownTimeout   = 30 * time.Second
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves the public API in the background and returns an idempotent
// stop(ctx). Shutdown waits up to DefaultShutdownTimeout for in-flight
// downloads before the caller's context takes over.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on addr=%v", addr)
	}

	L := opts.Logger
	go func() {
		L.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	var stopErr error
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, DefaultShutdownTimeout)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}
	return stop, nil
}
