package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "operator-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/bridge/complete", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	res := httptest.NewRecorder()
	auth.Middleware("bridge:complete")(okHandler()).ServeHTTP(res, authRequest(""))
	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "monspark"}, nil)
	token := signToken(t, jwt.MapClaims{
		"iss":   "monspark",
		"sub":   "relayer-1",
		"scope": "bridge:complete activity:read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	var (
		subject string
		scopes  []string
	)
	handler := auth.Middleware("bridge:complete")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
		scopes = Scopes(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, authRequest(token))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if subject != "relayer-1" {
		t.Fatalf("subject not propagated: %q", subject)
	}
	if len(scopes) != 2 || scopes[0] != "bridge:complete" {
		t.Fatalf("scopes not propagated: %v", scopes)
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	cases := map[string]struct {
		token  string
		status int
	}{
		"missing": {"", http.StatusUnauthorized},
		"wrong secret": {signToken(t, jwt.MapClaims{
			"scope": "bridge:complete",
		}, "other"), http.StatusUnauthorized},
		"expired": {signToken(t, jwt.MapClaims{
			"scope": "bridge:complete",
			"exp":   time.Now().Add(-time.Hour).Unix(),
		}, testSecret), http.StatusUnauthorized},
		"missing scope": {signToken(t, jwt.MapClaims{
			"scope": []interface{}{"activity:read"},
		}, testSecret), http.StatusForbidden},
	}
	for name, tc := range cases {
		res := httptest.NewRecorder()
		auth.Middleware("bridge:complete")(okHandler()).ServeHTTP(res, authRequest(tc.token))
		if res.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, res.Code)
		}
	}
}

func TestExtractBearer(t *testing.T) {
	if got := extractBearer("bearer abc"); got != "abc" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := extractBearer("Basic abc"); got != "" {
		t.Fatalf("non-bearer scheme accepted: %q", got)
	}
}
