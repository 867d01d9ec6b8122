package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taehunt/careerbooks-backend/internal/fault"
)

const testSecret = "test-secret-with-enough-entropy-0123456789"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newHMACVerifier(t *testing.T, opts Options) *Verifier {
	t.Helper()
	k, err := NewHMACKey(testSecret)
	require.NoError(t, err)
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewVerifier(k, opts)
}

func mint(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func hsToken(t *testing.T, claims jwt.MapClaims) string {
	return mint(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
}

func TestVerify_ValidToken(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	exp := fixedNow.Add(time.Hour)
	tok := hsToken(t, jwt.MapClaims{"sub": "u1", "role": "admin", "exp": exp.Unix()})

	c, err := v.Verify(context.Background(), "Bearer "+tok)

	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, RoleAdmin, c.Role)
	assert.Equal(t, exp.Unix(), c.ExpiresAt.Unix())
}

func TestVerify_LegacyIDClaim(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	tok := hsToken(t, jwt.MapClaims{"id": "64b7f0c2e1", "exp": fixedNow.Add(time.Hour).Unix()})

	c, err := v.Verify(context.Background(), "bearer "+tok)

	require.NoError(t, err)
	assert.Equal(t, "64b7f0c2e1", c.Subject)
	assert.Equal(t, RoleStandard, c.Role, "missing role defaults to standard")
}

func TestVerify_UnknownRoleIsStandard(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	tok := hsToken(t, jwt.MapClaims{"sub": "u1", "role": "superuser", "exp": fixedNow.Add(time.Hour).Unix()})

	c, err := v.Verify(context.Background(), "Bearer "+tok)

	require.NoError(t, err)
	assert.False(t, c.IsAdmin())
}

func TestVerify_Rejections(t *testing.T) {
	v := newHMACVerifier(t, Options{Issuer: "careerbooks"})
	valid := jwt.MapClaims{"sub": "u1", "iss": "careerbooks", "exp": fixedNow.Add(time.Hour).Unix()}

	with := func(k string, val any) jwt.MapClaims {
		c := jwt.MapClaims{}
		for kk, vv := range valid {
			c[kk] = vv
		}
		if val == nil {
			delete(c, k)
		} else {
			c[k] = val
		}
		return c
	}

	tests := []struct {
		name   string
		header string
		reason fault.Reason
	}{
		{"no header", "", fault.MissingToken},
		{"empty bearer", "Bearer ", fault.MissingToken},
		{"basic scheme", "Basic dXNlcjpwYXNz", fault.InvalidToken},
		{"garbage", "Bearer not.a.jwt", fault.InvalidToken},
		{"expired", "Bearer " + hsToken(t, with("exp", fixedNow.Add(-time.Hour).Unix())), fault.InvalidToken},
		{"no exp", "Bearer " + hsToken(t, with("exp", nil)), fault.InvalidToken},
		{"wrong issuer", "Bearer " + hsToken(t, with("iss", "someone-else")), fault.InvalidToken},
		{"no subject", "Bearer " + hsToken(t, with("sub", nil)), fault.InvalidToken},
		{"wrong secret", "Bearer " + mint(t, jwt.SigningMethodHS256, []byte("other-secret"), valid), fault.InvalidToken},
		{"alg none", "Bearer " + mint(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid), fault.InvalidToken},
		{"hs512 not pinned", "Bearer " + mint(t, jwt.SigningMethodHS512, []byte(testSecret), valid), fault.InvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.header)
			require.Error(t, err)
			assert.Equal(t, fault.Unauthenticated, fault.KindOf(err))
			assert.Equal(t, tt.reason, fault.ReasonOf(err))
		})
	}
}

func TestVerify_LeewayAcceptsRecentExpiry(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	tok := hsToken(t, jwt.MapClaims{"sub": "u1", "exp": fixedNow.Add(-10 * time.Second).Unix()})

	_, err := v.Verify(context.Background(), "Bearer "+tok)
	assert.NoError(t, err)
}

func TestRequireAdmin(t *testing.T) {
	v := newHMACVerifier(t, Options{})

	assert.NoError(t, v.RequireAdmin(Claims{Subject: "a", Role: RoleAdmin}))

	err := v.RequireAdmin(Claims{Subject: "u", Role: RoleStandard})
	require.Error(t, err)
	assert.Equal(t, fault.Forbidden, fault.KindOf(err))
	assert.Equal(t, fault.AdminRequired, fault.ReasonOf(err))
}

func TestNewHMACKey_Empty(t *testing.T) {
	_, err := NewHMACKey("  ")
	assert.Error(t, err)
}

// ==========================================================================
// middleware
// ==========================================================================

func TestMiddleware_StoresClaims(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	var got Claims
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/frontend01", nil)
	req.Header.Set("Authorization", "Bearer "+hsToken(t, jwt.MapClaims{"sub": "u1", "exp": fixedNow.Add(time.Hour).Unix()}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", got.Subject)
}

func TestMiddleware_Rejects401(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads/frontend01", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Contains(t, rec.Body.String(), `"error":"missing_token"`)
}

func TestRequireAdminMiddleware(t *testing.T) {
	v := newHMACVerifier(t, Options{})
	h := Middleware(v)(v.RequireAdminMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	tests := []struct {
		role string
		want int
	}{
		{"admin", http.StatusCreated},
		{"standard", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/purchases", nil)
		req.Header.Set("Authorization", "Bearer "+hsToken(t, jwt.MapClaims{"sub": "u1", "role": tt.role, "exp": fixedNow.Add(time.Hour).Unix()}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "role %s", tt.role)
	}
}
