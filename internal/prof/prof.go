// Package prof runs continuous profiling against a Pyroscope server.
package prof

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	BasicAuthUser        string
	BasicAuthPassword    string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int

	// OnActive is told when the profiler starts and stops. Wired to the
	// profiling_active gauge.
	OnActive func(bool)
}

// pyroLogger routes profiler chatter into the service logger. Debug and
// info are folded to debug; the profiler is noisy at info.
type pyroLogger struct {
	L log.Logger
}

func (p pyroLogger) Infof(format string, args ...any) {
	p.L.Debug(context.Background(), fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (p pyroLogger) Debugf(format string, args ...any) {
	p.L.Debug(context.Background(), fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (p pyroLogger) Errorf(format string, args ...any) {
	p.L.Warn(context.Background(), fmt.Sprintf(format, args...), "component", "pyroscope")
}

// Start launches the profiler. The returned stop func is always non-nil and
// safe to call more than once, including after an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	report := opts.OnActive
	if report == nil {
		report = func(bool) {}
	}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		report(false)
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		report(false)
		return func() {}, err
	}
	if opts.AppName == "" {
		opts.AppName = "careerbooks.gateway"
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}
	cfg := pyroscope.Config{
		ApplicationName:   opts.AppName,
		ServerAddress:     opts.ServerAddress,
		BasicAuthUser:     opts.BasicAuthUser,
		BasicAuthPassword: opts.BasicAuthPassword,
		TenantID:          opts.TenantID,
		Tags:              opts.Tags,
		Logger:            pyroLogger{L: L},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		report(false)
		return func() {}, xerrors.Wrap(err, "start pyroscope")
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)
	report(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			report(false)
			L.Info(context.Background(), "pyroscope stopped",
				"server_address", opts.ServerAddress,
				"app_name", opts.AppName,
			)
		})
	}, nil
}
