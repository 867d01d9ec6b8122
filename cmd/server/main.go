package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/taehunt/careerbooks-backend/internal/auth"
	"github.com/taehunt/careerbooks-backend/internal/cfg"
	"github.com/taehunt/careerbooks-backend/internal/cors"
	"github.com/taehunt/careerbooks-backend/internal/delivery"
	"github.com/taehunt/careerbooks-backend/internal/download"
	"github.com/taehunt/careerbooks-backend/internal/httpmw"
	"github.com/taehunt/careerbooks-backend/internal/httpserver"
	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/metrics"
	"github.com/taehunt/careerbooks-backend/internal/opshttp"
	"github.com/taehunt/careerbooks-backend/internal/otelx"
	"github.com/taehunt/careerbooks-backend/internal/probe"
	"github.com/taehunt/careerbooks-backend/internal/prof"
	"github.com/taehunt/careerbooks-backend/internal/ratelimit"
	v "github.com/taehunt/careerbooks-backend/internal/version"
)

const component = "gateway"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion, vi.Dirty(),
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.Dirty(),
		"env", conf.Env,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"storage_root", conf.StorageRoot,
		"free_asset_name", conf.FreeAssetName,
		"upstream_timeout", conf.UpstreamTimeout,
		"store", storeKind(conf),
		"ratelimit_rps", conf.RateLimitRPS,
		"ratelimit_burst", conf.RateLimitBurst,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.ShortCommit(),
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Component: component,
		Version:   vi.Version,
		UserAgent: vi.UserAgent(),
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without export")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{Enabled: false})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}

	// Stores
	store, storeName, closeStore, err := openStore(ctx, conf, L)
	if err != nil {
		L.Error(ctx, err, "failed to open store", "store", storeKind(conf))
		os.Exit(1)
	}
	defer closeStore()
	m.SetStoreReady(true)

	// Token keys
	keys, keySource, err := loadKeys(ctx, conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to load token keys")
		os.Exit(1)
	}
	L.Info(ctx, "token keys loaded", "source", keySource)
	verifier := auth.NewVerifier(keys, auth.Options{
		Issuer:   conf.JWTIssuer,
		Audience: conf.JWTAudience,
	})

	// Content delivery
	proxy := &delivery.Proxy{
		Source: &delivery.Router{
			Local: &delivery.LocalSource{Root: conf.StorageRoot},
			HTTP: &delivery.HTTPSource{
				Client:    delivery.NewHTTPClient(conf.UpstreamTimeout),
				UserAgent: vi.UserAgent(),
			},
			S3: delivery.NewS3Source(s3.NewFromConfig(awsCfg)),
		},
		Recorder: m,
	}

	svc, err := download.NewService(download.Options{
		Verifier:    verifier,
		Catalog:     store,
		Accounts:    store,
		Root:        conf.StorageRoot,
		FreeLocator: conf.FreeAssetLocator,
		FreeName:    conf.FreeAssetName,
	})
	if err != nil {
		L.Error(ctx, err, "invalid download service configuration")
		os.Exit(1)
	}
	api := download.NewAPI(svc, proxy, m)

	mode, _ := cors.ParseMode(conf.Env)
	policy, err := cors.ForMode(mode, conf.Origins())
	if err != nil {
		L.Error(ctx, err, "invalid CORS configuration")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate probe.ShutdownGate

	// readiness fails while draining or when the store stops answering
	readiness := probe.Multi(
		gate.Probe(),
		probe.Store(storeName, store, 0, m.SetStoreReady),
	)

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		// only log the first denial until the visitor is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// start public http server
	apiHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Routes:       api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		CORS:         policy.Middleware,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		BuildVersion: vi.Version,
		BuildCommit:  vi.Commit,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start public http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// the admin listener only answers private networks; the security group
	// is the first line, this is the second
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops routing new downloads here
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_period", conf.DrainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.DefaultShutdownTimeout+5*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "public http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func storeKind(conf cfg.App) string {
	if conf.DatabaseURL != "" {
		return "postgres"
	}
	return "yaml"
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
