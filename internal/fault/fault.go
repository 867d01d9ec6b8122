// Package fault is the request-level error taxonomy. Every failure that can
// end a download request is a *Error with a Kind (which fixes the HTTP
// status) and a Reason (which the client sees).
package fault

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	BadRequest
	BadGateway
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case BadGateway:
		return "bad_gateway"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	case BadGateway:
		return http.StatusBadGateway
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Reason string

const (
	None             Reason = ""
	MissingToken     Reason = "missing_token"
	InvalidToken     Reason = "invalid_token"
	UnknownAccount   Reason = "unknown_account"
	NotPurchased     Reason = "not_purchased"
	Expired          Reason = "expired"
	AdminRequired    Reason = "admin_required"
	UnknownSlug      Reason = "unknown_slug"
	MissingLocalFile Reason = "missing_local_file"
	InvalidLocator   Reason = "invalid_locator"
	MalformedSlug    Reason = "malformed_slug"
	UpstreamFailure  Reason = "upstream_failure"
	AlreadyExists    Reason = "already_exists"
)

type Error struct {
	Kind   Kind
	Reason Reason
	// Msg is safe to show to clients.
	Msg string
	// Err is for logs only.
	Err error
}

func New(kind Kind, reason Reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg}
}

// Wrap is New with an internal cause attached.
func Wrap(err error, kind Kind, reason Reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Reason != None {
		s += "/" + string(e.Reason)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int { return e.Kind.Status() }

// Is matches another *Error by kind and reason, so sentinel values work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Reason == None || e.Reason == t.Reason)
}

// KindOf classifies any error. Anything that is not a *Error is Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

func ReasonOf(err error) Reason {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return None
}

type body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes the client-facing body for err. Causes are never
// included; non-fault errors become a generic 500.
func WriteJSON(w http.ResponseWriter, err error) int {
	var fe *Error
	if !errors.As(err, &fe) {
		fe = &Error{Kind: Internal, Msg: "internal server error"}
	}
	code := string(fe.Reason)
	if code == "" {
		code = fe.Kind.String()
	}
	msg := fe.Msg
	if msg == "" {
		msg = http.StatusText(fe.Status())
	}
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(fe.Status())
	_ = json.NewEncoder(w).Encode(body{Error: code, Message: msg})
	return fe.Status()
}
