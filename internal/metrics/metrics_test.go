package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/taehunt/careerbooks-backend/internal/delivery"
	"github.com/taehunt/careerbooks-backend/internal/download"
	"github.com/taehunt/careerbooks-backend/internal/version"
)

// compile-time checks: ServerMetrics feeds the download packages
var (
	_ delivery.Recorder = (*ServerMetrics)(nil)
	_ download.Metrics  = (*ServerMetrics)(nil)
)

func TestNew_RegistryPopulated(t *testing.T) {
	m := New()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()

	// non-Vec metrics appear before any observation
	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"profiling_active",
		"store_ready",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}
}

func TestHandler_ContentType(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "openmetrics") {
		t.Fatalf("Content-Type = %q, want text/plain or openmetrics", ct)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	m.IncHttpPanic()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()

	cases := map[string]float64{
		"http_panic_total":                          2,
		"http_requests_rate_limited_total":          1,
		"http_requests_rate_limited_capacity_total": 1,
	}
	for name, want := range cases {
		if got := counterValue(t, m.reg, name); got != want {
			t.Errorf("%s = %f, want %f", name, got, want)
		}
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("careerbooks", "server", version.Info{
		Version:   "1.4.0",
		Commit:    "9f1c2ab",
		BuildId:   "build-7",
		GoVersion: "go1.24.11",
		VCSDirty:  &dirty,
	})

	labels := labelsOf(t, m.reg, "build_info")
	for k, want := range map[string]string{
		"app":        "careerbooks",
		"component":  "server",
		"version":    "1.4.0",
		"commit":     "9f1c2ab",
		"build_id":   "build-7",
		"go_version": "go1.24.11",
		"vcs_dirty":  "true",
	} {
		if got := labels[k]; got != want {
			t.Errorf("build_info label %q = %q, want %q", k, got, want)
		}
	}
}

func TestSetBuildInfoFromVersion_NilVCSDirty(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion("app", "comp", version.Info{Version: "dev"})

	if got := labelsOf(t, m.reg, "build_info")["vcs_dirty"]; got != "unknown" {
		t.Fatalf("vcs_dirty = %q, want unknown", got)
	}
}

func TestDownloadRequests(t *testing.T) {
	m := New()
	m.IncDownloadRequest("paid", "completed")
	m.IncDownloadRequest("paid", "completed")
	m.IncDownloadRequest("paid", "expired")
	m.IncDownloadRequest("free", "completed")

	f := gatherMetric(t, m.reg, "download_requests_total")
	if f == nil {
		t.Fatal("download_requests_total not found")
	}
	got := map[string]float64{}
	for _, mt := range f.GetMetric() {
		l := map[string]string{}
		for _, lp := range mt.GetLabel() {
			l[lp.GetName()] = lp.GetValue()
		}
		got[l["path"]+"/"+l["outcome"]] = mt.GetCounter().GetValue()
	}
	want := map[string]float64{"paid/completed": 2, "paid/expired": 1, "free/completed": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %f, want %f", k, got[k], v)
		}
	}
}

func TestRecorder(t *testing.T) {
	m := New()
	var rec delivery.Recorder = m

	rec.AddDownloadBytes("s3", 1024)
	rec.AddDownloadBytes("s3", 1024)
	rec.AddDownloadBytes("s3", 0)
	rec.IncStreamOutcome("s3", "aborted")
	rec.IncUpstreamFailure("s3")

	if got := counterValue(t, m.reg, "download_bytes_total"); got != 2048 {
		t.Errorf("download_bytes_total = %f, want 2048", got)
	}
	if got := counterValue(t, m.reg, "download_streams_total"); got != 1 {
		t.Errorf("download_streams_total = %f, want 1", got)
	}
	if got := counterValue(t, m.reg, "download_upstream_failures_total"); got != 1 {
		t.Errorf("download_upstream_failures_total = %f, want 1", got)
	}
	if l := labelsOf(t, m.reg, "download_bytes_total"); l["source"] != "s3" {
		t.Errorf("source label = %q", l["source"])
	}
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	m.SetStoreReady(false)

	if v := gaugeValue(t, m.reg, "profiling_active"); v != 1 {
		t.Errorf("profiling_active = %f, want 1", v)
	}
	if v := gaugeValue(t, m.reg, "store_ready"); v != 0 {
		t.Errorf("store_ready = %f, want 0", v)
	}
	m.SetProfilingActive(false)
	m.SetStoreReady(true)
	if v := gaugeValue(t, m.reg, "profiling_active"); v != 0 {
		t.Errorf("profiling_active = %f, want 0", v)
	}
	if v := gaugeValue(t, m.reg, "store_ready"); v != 1 {
		t.Errorf("store_ready = %f, want 1", v)
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	m1, m2 := New(), New()
	m1.IncHttpPanic()

	if v := counterValue(t, m1.reg, "http_panic_total"); v != 1 {
		t.Fatalf("m1 panic count = %f, want 1", v)
	}
	if v := counterValue(t, m2.reg, "http_panic_total"); v != 0 {
		t.Fatalf("m2 panic count = %f, want 0", v)
	}
}

func TestNew_ResponseSizeBuckets(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	f := gatherMetric(t, m.reg, "http_response_size_bytes")
	if f == nil {
		t.Fatal("http_response_size_bytes not found")
	}
	buckets := f.GetMetric()[0].GetHistogram().GetBucket()
	if largest := buckets[len(buckets)-1].GetUpperBound(); largest < 1<<30 {
		t.Fatalf("largest bucket = %f, want >= 1GiB for book archives", largest)
	}
}

func TestMiddleware_ErrorCounter(t *testing.T) {
	cases := []struct {
		status  int
		counted bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusOK, false},
	}
	for _, tc := range cases {
		m := New()
		handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

		f := gatherMetric(t, m.reg, "http_errors_total")
		if tc.counted && (f == nil || f.GetMetric()[0].GetCounter().GetValue() != 1) {
			t.Errorf("%d: http_errors_total not incremented", tc.status)
		}
		if !tc.counted && f != nil {
			t.Errorf("%d: http_errors_total present", tc.status)
		}
	}
}

// helpers

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func firstMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.Metric {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
	if len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0]
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return firstMetric(t, reg, name).GetCounter().GetValue()
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return firstMetric(t, reg, name).GetGauge().GetValue()
}

// histogramCount returns the sample count of the first metric in a histogram family.
func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	return firstMetric(t, reg, name).GetHistogram().GetSampleCount()
}

func labelsOf(t *testing.T, reg *prometheus.Registry, name string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, lp := range firstMetric(t, reg, name).GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}
