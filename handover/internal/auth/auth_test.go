package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/config"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return tok
}

func testConfig() config.Config {
	return config.Config{JWTSecret: secret, JWTIssuer: "leo-ops", WriteScope: "handover:write"}
}

func serve(v *Verifier, header, value string) *httptest.ResponseRecorder {
	var subject string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		subject = p.Subject
		w.Header().Set("X-Subject", subject)
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/decisions", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(testConfig())
	exp := time.Now().Add(time.Hour).Unix()

	valid := sign(t, secret, jwt.MapClaims{"sub": "ops-1", "iss": "leo-ops", "scope": "read handover:write", "exp": exp})
	rec := serve(v, "Authorization", "Bearer "+valid)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ops-1", rec.Header().Get("X-Subject"))

	roles := sign(t, secret, jwt.MapClaims{"sub": "svc", "iss": "leo-ops", "roles": []string{"handover:write"}, "exp": exp})
	assert.Equal(t, http.StatusNoContent, serve(v, "Authorization", "Bearer "+roles).Code)

	noScope := sign(t, secret, jwt.MapClaims{"sub": "ops-1", "iss": "leo-ops", "scope": "read", "exp": exp})
	assert.Equal(t, http.StatusForbidden, serve(v, "Authorization", "Bearer "+noScope).Code)

	wrongKey := sign(t, "other", jwt.MapClaims{"iss": "leo-ops", "scope": "handover:write", "exp": exp})
	assert.Equal(t, http.StatusUnauthorized, serve(v, "Authorization", "Bearer "+wrongKey).Code)

	wrongIssuer := sign(t, secret, jwt.MapClaims{"iss": "someone", "scope": "handover:write", "exp": exp})
	assert.Equal(t, http.StatusUnauthorized, serve(v, "Authorization", "Bearer "+wrongIssuer).Code)

	expired := sign(t, secret, jwt.MapClaims{"iss": "leo-ops", "scope": "handover:write", "exp": time.Now().Add(-time.Minute).Unix()})
	assert.Equal(t, http.StatusUnauthorized, serve(v, "Authorization", "Bearer "+expired).Code)

	assert.Equal(t, http.StatusUnauthorized, serve(v, "", "").Code)
}

func TestDebugToken(t *testing.T) {
	cfg := testConfig()
	cfg.AllowDebugToken = true
	cfg.DebugToken = "let-me-in"
	v := NewVerifier(cfg)

	rec := serve(v, DebugTokenHeader, "let-me-in")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "debug", rec.Header().Get("X-Subject"))
	assert.Equal(t, http.StatusUnauthorized, serve(v, DebugTokenHeader, "nope").Code)

	cfg.AllowDebugToken = false
	assert.Equal(t, http.StatusUnauthorized, serve(NewVerifier(cfg), DebugTokenHeader, "let-me-in").Code)
}

func TestDisabledVerifierAllowsAll(t *testing.T) {
	v := NewVerifier(config.Config{WriteScope: "handover:write"})
	assert.False(t, v.Enabled())
	rec := serve(v, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "anonymous", rec.Header().Get("X-Subject"))
}
