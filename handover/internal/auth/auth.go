// Package auth guards mutating HTTP routes with HS256 bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ILLUVRSE/leo-handover/handover/internal/config"
)

var (
	ErrMissingToken = errors.New("authentication required: bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingScope = errors.New("missing required scope")
)

const DebugTokenHeader = "X-Debug-Token"

// Principal identifies the caller of an authenticated request.
type Principal struct {
	Subject string
	Debug   bool
}

type principalKey struct{}

// PrincipalFrom returns the principal stored by Middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Verifier checks HS256 tokens signed with the configured secret. With no
// secret and no debug token configured it lets every request through.
type Verifier struct {
	secret     []byte
	issuer     string
	scope      string
	debugToken string
}

func NewVerifier(cfg config.Config) *Verifier {
	v := &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		scope:  cfg.WriteScope,
	}
	if cfg.AllowDebugToken {
		v.debugToken = cfg.DebugToken
	}
	return v
}

// Enabled reports whether requests are actually checked.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0 || v.debugToken != ""
}

// VerifyRequest authenticates r.
func (v *Verifier) VerifyRequest(r *http.Request) (Principal, error) {
	if !v.Enabled() {
		return Principal{Subject: "anonymous"}, nil
	}
	if v.debugToken != "" {
		if tok := r.Header.Get(DebugTokenHeader); tok != "" {
			if subtle.ConstantTimeCompare([]byte(tok), []byte(v.debugToken)) == 1 {
				return Principal{Subject: "debug", Debug: true}, nil
			}
			return Principal{}, ErrInvalidToken
		}
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Principal{}, ErrMissingToken
	}
	return v.VerifyToken(strings.TrimPrefix(authHeader, "Bearer "))
}

func (v *Verifier) VerifyToken(tokenStr string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if !hasScope(claims, v.scope) {
		return Principal{}, ErrMissingScope
	}
	sub, _ := claims.GetSubject()
	return Principal{Subject: sub}, nil
}

// hasScope accepts a space separated "scope" claim or a "roles" array.
func hasScope(claims jwt.MapClaims, want string) bool {
	if want == "" {
		return true
	}
	if scope, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			if s == want {
				return true
			}
		}
		return false
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// Middleware rejects unauthenticated requests with 401 and requests
// lacking the write scope with 403.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.VerifyRequest(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrMissingScope) {
				status = http.StatusForbidden
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}
