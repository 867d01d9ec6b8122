package opshttp

import (
	"net/http"

	"github.com/taehunt/careerbooks-backend/internal/probe"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      probe.Probe
	Readiness   probe.Probe
	// OnPanic runs after a recovered panic (the http_panic_total counter).
	OnPanic func()
}
