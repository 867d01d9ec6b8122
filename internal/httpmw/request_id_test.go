package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// Context helpers

func TestWithRequestID_Basic(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-id-123")
	got := RequestIDFromContext(ctx)
	if got != "test-id-123" {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, "test-id-123")
	}
}

func TestWithRequestID_Empty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	got := RequestIDFromContext(ctx)
	if got != "" {
		t.Fatalf("expected empty request ID for empty input, got %q", got)
	}
}

func TestRequestIDFromContext_NoValue(t *testing.T) {
	got := RequestIDFromContext(context.Background())
	if got != "" {
		t.Fatalf("expected empty string from bare context, got %q", got)
	}
}

// Middleware

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var ctxID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})

	mw := RequestID("X-Request-Id")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", http.NoBody)

	mw(handler).ServeHTTP(rec, req)

	if _, err := uuid.Parse(ctxID); err != nil {
		t.Fatalf("generated ID %q is not a UUID: %v", ctxID, err)
	}

	// Response header should match context
	if got := rec.Header().Get("X-Request-Id"); got != ctxID {
		t.Fatalf("response header = %q, context = %q", got, ctxID)
	}
}

func TestRequestID_PropagatesExisting(t *testing.T) {
	var ctxID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})

	mw := RequestID("X-Request-Id")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Request-Id", "upstream-id-abc")

	mw(handler).ServeHTTP(rec, req)

	if ctxID != "upstream-id-abc" {
		t.Fatalf("context ID = %q, want %q", ctxID, "upstream-id-abc")
	}
	if got := rec.Header().Get("X-Request-Id"); got != "upstream-id-abc" {
		t.Fatalf("response header = %q, want %q", got, "upstream-id-abc")
	}
}

func TestRequestID_CustomHeaderName(t *testing.T) {
	var ctxID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})

	mw := RequestID("X-Correlation-Id")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Correlation-Id", "corr-999")

	mw(handler).ServeHTTP(rec, req)

	if ctxID != "corr-999" {
		t.Fatalf("context ID = %q, want %q", ctxID, "corr-999")
	}
	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-999" {
		t.Fatalf("response header = %q, want %q", got, "corr-999")
	}
}

func TestRequestID_DefaultHeaderName(t *testing.T) {
	var ctxID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})

	// Empty string should default to X-Request-Id
	mw := RequestID("")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Request-Id", "default-header-test")

	mw(handler).ServeHTTP(rec, req)

	if ctxID != "default-header-test" {
		t.Fatalf("context ID = %q, want %q", ctxID, "default-header-test")
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	ids := make(map[string]bool)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	mw := RequestID("X-Request-Id")

	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", http.NoBody)
		mw(handler).ServeHTTP(rec, req)

		id := rec.Header().Get("X-Request-Id")
		if ids[id] {
			t.Fatalf("duplicate request ID generated: %q on iteration %d", id, i)
		}
		ids[id] = true
	}
}

func TestRequestID_ReplacesUnsafeInbound(t *testing.T) {
	bad := []string{
		"id with spaces",
		"line\nbreak",
		`quote"d`,
		strings.Repeat("a", maxRequestIDLen+1),
	}
	mw := RequestID("X-Request-Id")
	for _, in := range bad {
		var ctxID string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxID = RequestIDFromContext(r.Context())
		})
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.Header["X-Request-Id"] = []string{in}
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)

		if ctxID == in {
			t.Errorf("unsafe inbound ID %q was propagated", in)
		}
		if _, err := uuid.Parse(ctxID); err != nil {
			t.Errorf("replacement for %q is not a UUID: %q", in, ctxID)
		}
	}
}

func TestValidRequestID(t *testing.T) {
	good := []string{"abc", "upstream-id-abc", "Root=1-5759e988-bd862e3fe1be46a994272793", "a.b_c:d"}
	for _, id := range good {
		if !validRequestID(id) {
			t.Errorf("validRequestID(%q) = false", id)
		}
	}
	if validRequestID("") {
		t.Error("empty ID accepted")
	}
}
