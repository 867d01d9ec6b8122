package log

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// DefaultRedactKeys are attribute keys whose values never reach the output.
// Matching is case-insensitive and applies inside groups.
var DefaultRedactKeys = []string{"authorization", "token", "jwt_secret", "password"}

type redactHandler struct {
	next slog.Handler
	keys map[string]struct{}
}

func newRedactHandler(next slog.Handler, keys []string) slog.Handler {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = struct{}{}
	}
	return redactHandler{next: next, keys: m}
}

func (h redactHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h redactHandler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.keys) == 0 {
		return h.next.Handle(ctx, r)
	}
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.scrub(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.scrub(a)
	}
	return redactHandler{next: h.next.WithAttrs(clean), keys: h.keys}
}

func (h redactHandler) WithGroup(name string) slog.Handler {
	return redactHandler{next: h.next.WithGroup(name), keys: h.keys}
}

func (h redactHandler) scrub(a slog.Attr) slog.Attr {
	if _, hit := h.keys[strings.ToLower(a.Key)]; hit {
		return slog.String(a.Key, redacted)
	}
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: v}
	}
	group := v.Group()
	clean := make([]any, len(group))
	for i, g := range group {
		clean[i] = h.scrub(g)
	}
	return slog.Group(a.Key, clean...)
}
