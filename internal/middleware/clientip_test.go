package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveClientIPFromCloudflareHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("CF-Connecting-IP", "203.0.113.7")
	req.Header.Set("X-Forwarded-For", "198.51.100.2")

	assert.Equal(t, "203.0.113.7", ResolveClientIP(req))
}

func TestResolveClientIPTakesFirstForwardedEntry(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 198.51.100.2, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", ResolveClientIP(req))
}

func TestResolveClientIPSkipsPrivateCandidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.RemoteAddr = "198.51.100.2:4444"

	assert.Equal(t, "198.51.100.2", ResolveClientIP(req))
}

func TestResolveClientIPParsesRFC7239Forwarded(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Forwarded", "for=203.0.113.60;proto=https")

	assert.Equal(t, "203.0.113.60", ResolveClientIP(req))
}

func TestResolveClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:50123"

	assert.Equal(t, "203.0.113.9", ResolveClientIP(req))
}

func TestSessionIDHeaderWinsOverCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Session-ID", "sid-header")
	req.AddCookie(&http.Cookie{Name: "admin_session", Value: "sid-cookie"})

	assert.Equal(t, "sid-header", SessionID(req))
}

func TestSessionIDCookieFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "admin_session", Value: "sid-cookie"})

	assert.Equal(t, "sid-cookie", SessionID(req))

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, SessionID(bare))
}
