package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/tradingagents/config"
)

func serveWithAuth(t *testing.T, secret []byte, token string, mw ...echo.MiddlewareFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	chain := append([]echo.MiddlewareFunc{EchoAuthMiddleware(secret)}, mw...)
	e.GET("/api/reports", func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		return c.String(http.StatusOK, sub)
	}, chain...)
	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("dashboard", secret, time.Hour, ScopeReportsRead)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	rec := serveWithAuth(t, secret, tok, RequireScopes(ScopeReportsRead))
	if rec.Code != http.StatusOK || rec.Body.String() != "dashboard" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}

	if rec := serveWithAuth(t, secret, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", rec.Code)
	}
	if rec := serveWithAuth(t, []byte("other"), tok); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: got %d", rec.Code)
	}

	expired, _ := SignJWT("dashboard", secret, -time.Minute)
	if rec := serveWithAuth(t, secret, expired); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: got %d", rec.Code)
	}

	noScope, _ := SignJWT("dashboard", secret, time.Hour)
	if rec := serveWithAuth(t, secret, noScope, RequireScopes(ScopeReportsRead)); rec.Code != http.StatusForbidden {
		t.Fatalf("missing scope: got %d", rec.Code)
	}
}

func TestEchoAuthMiddlewareRejectsOtherAlgorithms(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "dashboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := serveWithAuth(t, secret, tok); rec.Code != http.StatusUnauthorized {
		t.Fatalf("HS512 token: got %d", rec.Code)
	}
}

func TestExtractScopesFromSpaceSeparatedClaim(t *testing.T) {
	got := extractScopes(jwt.MapClaims{"scope": "reports:read  admin"})
	if len(got) != 2 || got[0] != ScopeReportsRead || got[1] != "admin" {
		t.Fatalf("scopes = %v", got)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatal("expected error without secret")
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: " abc "}}
	got, err := LoadJWTSecret(cfg)
	if err != nil || string(got) != "abc" {
		t.Fatalf("got %q, %v", got, err)
	}
}
