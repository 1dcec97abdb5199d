package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" || r.URL.Path != verifyPath {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Token {
		case "good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_id":" doc-1 ","email":"doc@clinic.test"}`))
		case "anon":
			_, _ = w.Write([]byte(`{"email":"x@y.test"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	v, err := NewVerifier(Config{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	require.True(t, v.IsConfigured())

	c, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", c.UserID)
	assert.Equal(t, "doc@clinic.test", c.Email)

	_, err = v.Verify(context.Background(), "expired")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = v.Verify(context.Background(), "anon")
	assert.True(t, errors.Is(err, ErrUpstream))

	_, err = v.Verify(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrTokenEmpty))
}

func TestVerify_NotConfigured(t *testing.T) {
	v, err := NewVerifier(Config{BaseURL: "http://idp.local"})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "good")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
