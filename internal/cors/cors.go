// Package cors decides which browser origins receive cross-origin response
// headers. The allowlist is fixed when the process starts.
package cors

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

type Mode string

const (
	Production  Mode = "production"
	Development Mode = "development"
)

var (
	productionOrigins = []string{
		"https://careerbooks.shop",
		"http://careerbooks.shop",
		"https://api.careerbooks.shop",
	}
	developmentOrigins = []string{
		"http://localhost:5173",
	}
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Authorization, Content-Type"
	maxAge       = "600"
)

// Policy is immutable after ForMode returns and safe for concurrent use.
type Policy struct {
	origins map[string]struct{}
	list    []string
}

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Production, Development:
		return m, nil
	}
	return "", fmt.Errorf("unknown deployment mode %q (valid modes are production|development)", s)
}

// ForMode builds the policy for a deployment mode. A non-empty override
// replaces the mode's default list; it is never merged with it.
func ForMode(mode Mode, override []string) (*Policy, error) {
	var src []string
	switch mode {
	case Production:
		src = productionOrigins
	case Development:
		src = developmentOrigins
	default:
		return nil, fmt.Errorf("unknown deployment mode %q", mode)
	}
	if len(override) > 0 {
		src = override
	}

	p := &Policy{origins: make(map[string]struct{}, len(src))}
	for _, o := range src {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return nil, fmt.Errorf("wildcard origin is not allowed with credentials")
		}
		if _, dup := p.origins[o]; dup {
			continue
		}
		p.origins[o] = struct{}{}
		p.list = append(p.list, o)
	}
	if len(p.origins) == 0 {
		return nil, fmt.Errorf("empty origin allowlist for mode %q", mode)
	}
	return p, nil
}

// Allowed reports whether origin exactly matches an allowlisted entry.
func (p *Policy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := p.origins[origin]
	return ok
}

func (p *Policy) Origins() []string { return slices.Clone(p.list) }

// Apply sets the cross-origin headers on h for origin and reports whether
// it matched. Vary is set regardless so caches key on Origin.
func (p *Policy) Apply(h http.Header, origin string) bool {
	h.Add("Vary", "Origin")
	if !p.Allowed(origin) {
		return false
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	return true
}

// Middleware applies the policy to every response and answers every OPTIONS
// request with 200 and no body, whether or not the target route exists.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		matched := p.Apply(h, r.Header.Get("Origin"))

		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if matched {
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Max-Age", maxAge)
		}
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})
}
