// Package auth verifies bearer tokens and exposes the resulting identity to
// handlers through the request context.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taehunt/careerbooks-backend/internal/fault"
)

const DefaultLeeway = 30 * time.Second

// KeySource supplies verification key material. Methods pins the accepted
// "alg" values; Key is called once per token after the header is parsed.
type KeySource interface {
	Methods() []string
	Key(ctx context.Context, t *jwt.Token) (any, error)
}

type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type Verifier struct {
	keys   KeySource
	parser *jwt.Parser
}

func NewVerifier(keys KeySource, opts Options) *Verifier {
	if opts.Leeway <= 0 {
		opts.Leeway = DefaultLeeway
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods(keys.Methods()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		popts = append(popts, jwt.WithAudience(opts.Audience))
	}
	if opts.Now != nil {
		popts = append(popts, jwt.WithTimeFunc(opts.Now))
	}
	return &Verifier{keys: keys, parser: jwt.NewParser(popts...)}
}

var (
	errMissing = fault.New(fault.Unauthenticated, fault.MissingToken, "authorization required")
	errScheme  = fault.New(fault.Unauthenticated, fault.InvalidToken, "bearer token required")
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissing
	}
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errScheme
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", errMissing
	}
	return tok, nil
}

// Verify checks the Authorization header value and returns the claims it
// carries. Every failure is a fault.Unauthenticated error.
func (v *Verifier) Verify(ctx context.Context, header string) (Claims, error) {
	raw, err := BearerToken(header)
	if err != nil {
		return Claims{}, err
	}

	tc := &tokenClaims{}
	_, err = v.parser.ParseWithClaims(raw, tc, func(t *jwt.Token) (any, error) {
		return v.keys.Key(ctx, t)
	})
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return Claims{}, fault.Wrap(err, fault.Unauthenticated, fault.InvalidToken, msg)
	}

	sub := tc.subject()
	if sub == "" {
		return Claims{}, fault.New(fault.Unauthenticated, fault.InvalidToken, "token has no subject")
	}
	c := Claims{Subject: sub, Role: ParseRole(tc.Role)}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time.UTC()
	}
	return c, nil
}

// RequireAdmin passes admins and rejects everyone else with Forbidden, which
// is distinct from an authentication failure.
func (v *Verifier) RequireAdmin(c Claims) error {
	if c.IsAdmin() {
		return nil
	}
	return fault.New(fault.Forbidden, fault.AdminRequired, "admin role required")
}
