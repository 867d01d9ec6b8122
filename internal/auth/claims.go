package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a role claim onto a known role. Anything unrecognised is
// treated as standard so a typo can never grant admin.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleStandard
}

// Claims is the verified identity of one request.
type Claims struct {
	Subject   string
	Role      Role
	ExpiresAt time.Time
}

func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// tokenClaims is the wire shape. Older tokens carry the account id in "id"
// instead of "sub".
type tokenClaims struct {
	LegacyID string `json:"id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (tc *tokenClaims) subject() string {
	if tc.Subject != "" {
		return tc.Subject
	}
	return tc.LegacyID
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
