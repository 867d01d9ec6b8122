package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taehunt/careerbooks-backend/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// download metrics
	downloadRequestsTotal *prometheus.CounterVec
	downloadBytesTotal    *prometheus.CounterVec
	downloadStreamsTotal  *prometheus.CounterVec
	upstreamFailuresTotal *prometheus.CounterVec
	storeReady            prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864, 268435456, 1073741824},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		downloadRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "download_requests_total",
			Help: "Finished download requests by path (free, paid) and outcome",
		}, []string{"path", "outcome"}),
		downloadBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "download_bytes_total",
			Help: "Bytes streamed to clients by source kind",
		}, []string{"source"}),
		downloadStreamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "download_streams_total",
			Help: "Stream attempts by source kind and outcome",
		}, []string{"source", "outcome"}),
		upstreamFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "download_upstream_failures_total",
			Help: "Upstream open or mid-stream read failures by source kind",
		}, []string{"source"}),
		storeReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_ready",
			Help: "Whether the last account/catalog store ping succeeded (1) or failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.downloadRequestsTotal,
		m.downloadBytesTotal,
		m.downloadStreamsTotal,
		m.upstreamFailuresTotal,
		m.storeReady,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// IncDownloadRequest counts a finished download. outcome is "completed" or
// the failure reason.
func (m *ServerMetrics) IncDownloadRequest(path, outcome string) {
	m.downloadRequestsTotal.WithLabelValues(path, outcome).Inc()
}

func (m *ServerMetrics) AddDownloadBytes(source string, n int64) {
	if n > 0 {
		m.downloadBytesTotal.WithLabelValues(source).Add(float64(n))
	}
}

func (m *ServerMetrics) IncStreamOutcome(source, outcome string) {
	m.downloadStreamsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *ServerMetrics) IncUpstreamFailure(source string) {
	m.upstreamFailuresTotal.WithLabelValues(source).Inc()
}

func (m *ServerMetrics) SetStoreReady(ok bool) {
	if ok {
		m.storeReady.Set(1)
	} else {
		m.storeReady.Set(0)
	}
}
