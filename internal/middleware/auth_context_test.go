package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"medical-photo-sharing/internal/ports/auth"
)

type stubVerifier struct {
	token  string
	claims auth.Claims
}

func (v stubVerifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if token != v.token {
		return auth.Claims{}, errors.New("bad token")
	}
	return v.claims, nil
}

func serve(t *testing.T, verifier auth.AuthVerifier, headers map[string]string) (auth.Claims, bool) {
	t.Helper()

	var (
		got auth.Claims
		ok  bool
	)
	h := AuthContext(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GetClaims(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got, ok
}

func TestAuthContext_DevHeader(t *testing.T) {
	c, ok := serve(t, nil, map[string]string{DebugUserHeader: " patient-1 "})
	if !ok || c.UserID != "patient-1" {
		t.Fatalf("expected patient-1, got %+v ok=%v", c, ok)
	}

	if _, ok := serve(t, nil, nil); ok {
		t.Fatalf("expected no claims without header")
	}
}

func TestAuthContext_Bearer(t *testing.T) {
	v := stubVerifier{token: "good", claims: auth.Claims{UserID: "doc-1"}}

	c, ok := serve(t, v, map[string]string{"Authorization": "bearer good"})
	if !ok || c.UserID != "doc-1" {
		t.Fatalf("expected doc-1, got %+v ok=%v", c, ok)
	}

	if _, ok := serve(t, v, map[string]string{"Authorization": "Bearer bad"}); ok {
		t.Fatalf("rejected token must not set claims")
	}
	if _, ok := serve(t, v, map[string]string{DebugUserHeader: "doc-1"}); ok {
		t.Fatalf("debug header must be ignored when a verifier is set")
	}
	if _, ok := serve(t, v, map[string]string{"Authorization": "Basic good"}); ok {
		t.Fatalf("non-bearer scheme must be ignored")
	}
}
