package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", ClientIP(r))

	// RealIP upstream may leave a bare address.
	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestKeyByClientID(t *testing.T) {
	t.Run("form body", func(t *testing.T) {
		body := url.Values{"client_id": {"abc"}}.Encode()
		r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		assert.Equal(t, "client_abc", KeyByClientID(r))
	})

	t.Run("query string", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=xyz", nil)
		assert.Equal(t, "client_xyz", KeyByClientID(r))
	})

	t.Run("absent", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
		assert.Empty(t, KeyByClientID(r))
	})
}

func TestKeyByEmailAndIP(t *testing.T) {
	body := url.Values{"email": {"kim@example.com"}}.Encode()
	r := httptest.NewRequest(http.MethodPost, "/auth/signin/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.RemoteAddr = "203.0.113.9:1234"
	assert.Equal(t, "kim@example.com_203.0.113.9", KeyByEmailAndIP(r))

	// No email means the bucket falls back to the IP key.
	empty := httptest.NewRequest(http.MethodPost, "/auth/signin/", nil)
	assert.Empty(t, KeyByEmailAndIP(empty))
}
