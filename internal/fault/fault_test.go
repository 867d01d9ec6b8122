package fault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Unauthenticated, 401},
		{Forbidden, 403},
		{NotFound, 404},
		{BadRequest, 400},
		{BadGateway, 502},
		{Conflict, 409},
		{Internal, 500},
	}
	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.want {
			t.Errorf("%s.Status() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(Forbidden, Expired, "access window ended")
	err := fmt.Errorf("check entitlement: %w", base)

	if KindOf(err) != Forbidden {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
	if ReasonOf(err) != Expired {
		t.Fatalf("ReasonOf = %v", ReasonOf(err))
	}
	if KindOf(io.EOF) != Internal || ReasonOf(io.EOF) != None {
		t.Fatal("plain errors should classify as Internal")
	}
}

func TestIs_MatchesKindAndReason(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, BadGateway, UpstreamFailure, "upstream failed")

	if !errors.Is(err, &Error{Kind: BadGateway}) {
		t.Fatal("kind-only target should match")
	}
	if !errors.Is(err, &Error{Kind: BadGateway, Reason: UpstreamFailure}) {
		t.Fatal("kind+reason target should match")
	}
	if errors.Is(err, &Error{Kind: NotFound}) {
		t.Fatal("different kind should not match")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("cause should be reachable")
	}
}

func TestWriteJSON_FaultBody(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Wrap(errors.New("/srv/uploads/frontend01.zip: no such file"), NotFound, MissingLocalFile, "file not available")

	code := WriteJSON(rec, err)

	if code != http.StatusNotFound || rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d/%d", code, rec.Code)
	}
	if strings.Contains(rec.Body.String(), "/srv/uploads") {
		t.Fatalf("cause leaked into body: %s", rec.Body.String())
	}
	var b map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b["error"] != "missing_local_file" || b["message"] != "file not available" {
		t.Fatalf("body = %v", b)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestWriteJSON_PlainErrorIsGeneric500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("detail leaked: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestError_String(t *testing.T) {
	err := Wrap(io.EOF, BadGateway, UpstreamFailure, "upstream failed")
	if got := err.Error(); got != "bad_gateway/upstream_failure: upstream failed: EOF" {
		t.Fatalf("Error() = %q", got)
	}
}
