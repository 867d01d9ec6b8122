package opshttp

import (
	"net/http"

	"github.com/taehunt/careerbooks-backend/internal/probe"
)

// probeHandler answers 200 with okBody when p passes and 503 with the
// failure reason otherwise. A nil probe always passes.
func probeHandler(p probe.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}

// HealthzHandler reports liveness.
func HealthzHandler(p probe.Probe) http.HandlerFunc { return probeHandler(p, "ok") }

// ReadyzHandler reports readiness: false while draining or while the store
// is unreachable.
func ReadyzHandler(p probe.Probe) http.HandlerFunc { return probeHandler(p, "ready") }
