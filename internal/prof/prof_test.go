package prof

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/taehunt/careerbooks-backend/internal/log"
)

type activeRecorder struct {
	mu   sync.Mutex
	seen []bool
}

func (r *activeRecorder) report(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, b)
}

func (r *activeRecorder) last() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return false, false
	}
	return r.seen[len(r.seen)-1], true
}

// Disabled path

func TestStart_Disabled(t *testing.T) {
	rec := &activeRecorder{}
	stop, err := Start(context.Background(), Options{Enabled: false, OnActive: rec.report})
	if err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop()

	if active, ok := rec.last(); !ok || active {
		t.Fatalf("OnActive last = %v (called %v), want false", active, ok)
	}
}

func TestStart_Disabled_IgnoresAllOptions(t *testing.T) {
	stop, err := Start(context.Background(), Options{
		Enabled:              false,
		BasicAuthUser:        "user",
		BasicAuthPassword:    "secret",
		TenantID:             "tenant",
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

func TestStart_Disabled_NilOnActive(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{Enabled: false})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

// Enabled - validation

func TestStart_Enabled_EmptyServerAddress(t *testing.T) {
	rec := &activeRecorder{}
	stop, err := Start(context.Background(), Options{
		Enabled:  true,
		AppName:  "careerbooks.gateway",
		OnActive: rec.report,
	})
	if err == nil {
		t.Fatal("expected error for empty server address")
	}
	if !strings.Contains(err.Error(), "invalid server address") {
		t.Fatalf("error = %q, want 'invalid server address'", err.Error())
	}
	if stop == nil {
		t.Fatal("stop func should be non-nil even on error")
	}
	stop()
	stop()

	if active, _ := rec.last(); active {
		t.Fatal("profiler reported active after a failed start")
	}
}

// Enabled - unreachable server. pyroscope uploads in the background, so
// Start normally succeeds; either way stop must be safe and OnActive must
// end false.
func TestStart_Enabled_UnreachableServer(t *testing.T) {
	rec := &activeRecorder{}
	stop, err := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://127.0.0.1:1",
		Tags:          map[string]string{"env": "test"},
		OnActive:      rec.report,
	})
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	if err == nil {
		if active, _ := rec.last(); !active {
			t.Fatal("OnActive(true) not reported after successful start")
		}
	}
	stop()
	stop()
	if active, _ := rec.last(); active {
		t.Fatal("profiler still reported active after stop")
	}
}

func TestPyroLogger(t *testing.T) {
	l := pyroLogger{L: log.Nop()}
	l.Infof("upload %d", 1)
	l.Debugf("tick")
	l.Errorf("upload failed: %v", "boom")
}
