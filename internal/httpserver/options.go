package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taehunt/careerbooks-backend/internal/httpmw"
	"github.com/taehunt/careerbooks-backend/internal/log"
)

type Middleware = func(http.Handler) http.Handler

type Options struct {
	Logger log.Logger
	Port   int

	// Routes mounts the API onto the router (download.API.RegisterRoutes).
	Routes func(chi.Router)

	UseRecoverMW bool
	OnPanic      func()

	CORS        Middleware
	MetricsMW   Middleware
	RateLimitMW Middleware

	ClientIPOpts httpmw.ClientIPOptions

	BuildVersion string
	BuildCommit  string

	// MaxBodyBytes caps request bodies; 0 means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}
