package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/taehunt/careerbooks-backend/internal/cors"
	"github.com/taehunt/careerbooks-backend/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading the
// environment: -storage-root becomes CBOOKS_STORAGE_ROOT.
const EnvPrefix = "CBOOKS_"

// DefaultFreeAssetLocator is where the free sample zip is hosted.
const DefaultFreeAssetLocator = "https://pub-bb775a03143c476396cd5c6200cab293.r2.dev/frontend00.zip"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	EnablePprof bool
	DrainPeriod time.Duration

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	Env         string
	CORSOrigins string

	StorageRoot      string
	FreeAssetLocator string
	FreeAssetName    string
	UpstreamTimeout  time.Duration

	JWTSecret         string
	JWTSecretSSMParam string
	JWTKMSKeyARN      string
	JWTIssuer         string
	JWTAudience       string

	DatabaseURL      string
	DatabaseMaxConns int
	DataFile         string

	RateLimitRPS   float64
	RateLimitBurst int
	TrustedHops    int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 60*time.Second, "time to fail readiness before closing listeners on shutdown")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.Env, "env", string(cors.Production), "deployment mode: production|development (selects CORS allowlist)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma separated origins replacing the mode default allowlist")

	fs.StringVar(&c.StorageRoot, "storage-root", "", "directory local content locators resolve beneath")
	fs.StringVar(&c.FreeAssetLocator, "free-asset-locator", DefaultFreeAssetLocator, "locator of the free sample download")
	fs.StringVar(&c.FreeAssetName, "free-asset-name", "free-asset", "download filename stem for the free sample")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", 15*time.Second, "connect and response-header timeout for remote storage")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for access tokens")
	fs.StringVar(&c.JWTSecretSSMParam, "jwt-secret-ssm-param", "", "SSM SecureString parameter holding the HMAC secret")
	fs.StringVar(&c.JWTKMSKeyARN, "jwt-kms-key-arn", "", "KMS asymmetric key ARN whose public key verifies tokens")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "", "required iss claim (optional)")
	fs.StringVar(&c.JWTAudience, "jwt-audience", "", "required aud claim (optional)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "Postgres DSN for accounts and catalog")
	fs.IntVar(&c.DatabaseMaxConns, "database-max-conns", 10, "Postgres pool size (1..1000)")
	fs.StringVar(&c.DataFile, "data-file", "", "YAML catalog and accounts file, used when database-url is empty")

	fs.Float64Var(&c.RateLimitRPS, "ratelimit-rps", 10, "per-IP sustained requests per second")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 30, "per-IP burst size")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted proxies in front of the public listener")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Origins splits CORSOrigins. Empty means use the mode default.
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// KeySources counts how many token key sources are configured.
func (c App) KeySources() int {
	n := 0
	for _, s := range []string{c.JWTSecret, c.JWTSecretSSMParam, c.JWTKMSKeyARN} {
		if s != "" {
			n++
		}
	}
	return n
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must not be negative (got %s)", c.DrainPeriod))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// CORS
	if _, err := cors.ParseMode(c.Env); err != nil {
		errs = append(errs, fmt.Errorf("invalid ENV %q: %w", c.Env, err))
	}
	for _, o := range c.Origins() {
		if u, err := url.Parse(o); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Path != "" {
			errs = append(errs, fmt.Errorf("CORS_ORIGINS entry %q must be scheme://host[:port]", o))
		}
	}

	// Content
	if c.StorageRoot == "" {
		errs = append(errs, fmt.Errorf("STORAGE_ROOT is required"))
	}
	if c.FreeAssetLocator == "" {
		errs = append(errs, fmt.Errorf("FREE_ASSET_LOCATOR is required"))
	}
	if c.FreeAssetName == "" {
		errs = append(errs, fmt.Errorf("FREE_ASSET_NAME is required"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be positive (got %s)", c.UpstreamTimeout))
	}

	// Token keys: exactly one source
	switch n := c.KeySources(); {
	case n == 0:
		errs = append(errs, fmt.Errorf("one of JWT_SECRET, JWT_SECRET_SSM_PARAM or JWT_KMS_KEY_ARN is required"))
	case n > 1:
		errs = append(errs, fmt.Errorf("JWT_SECRET, JWT_SECRET_SSM_PARAM and JWT_KMS_KEY_ARN are mutually exclusive (%d set)", n))
	}

	// Stores
	if c.DatabaseURL == "" && c.DataFile == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL or DATA_FILE is required"))
	}
	if c.DatabaseURL != "" && c.DataFile != "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL and DATA_FILE are mutually exclusive"))
	}
	if c.DatabaseURL != "" && (c.DatabaseMaxConns < 1 || c.DatabaseMaxConns > 1000) {
		errs = append(errs, fmt.Errorf("DATABASE_MAX_CONNS must be 1..1000 (got %d)", c.DatabaseMaxConns))
	}

	// Rate limiting
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_RPS must be positive (got %v)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_BURST must be at least 1 (got %d)", c.RateLimitBurst))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
