// Package probe holds the liveness and readiness checks served on the ops
// listener. Readiness for the gateway is the shutdown gate AND the backing
// store answering a ping.
package probe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// Probe is evaluated at request time
// nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// Func adapts a function into a Probe.
type Func func(context.Context) error

func (f Func) Check(ctx context.Context) error { return f(ctx) }

// Static returns a probe that always returns ok or fails with the given reason
func Static(ok bool, reason string) Func {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// Multi is AND: passes only if all probes pass; returns the first error.
func Multi(ps ...Probe) Func {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Pinger is satisfied by the account/catalog stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultStoreTimeout bounds a store ping so a hung database cannot hang
// the load balancer's readiness check.
const DefaultStoreTimeout = 2 * time.Second

// Store reports ready while p answers within timeout. report, when set,
// receives each result (the store_ready gauge).
func Store(name string, p Pinger, timeout time.Duration, report func(ok bool)) Func {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := p.Ping(ctx)
		if report != nil {
			report(err == nil)
		}
		if err != nil {
			return xerrors.Wrapf(err, "%s store not ready", name)
		}
		return nil
	}
}

// ShutdownGate flips readiness to false during drain/shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Draining() bool { return g.draining.Load() }

func (g *ShutdownGate) Probe() Func {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
