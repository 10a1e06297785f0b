package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/clubify/adminguard/internal/config"
)

func headersRouter() *gin.Engine {
	r := gin.New()
	r.Use(SecurityHeaders(config.SecurityConfig{
		Headers: map[string]string{
			"X-Content-Type-Options": "nosniff",
			"Referrer-Policy":        "strict-origin-when-cross-origin",
		},
	}))
	handler := func(c *gin.Context) { c.String(200, "ok") }
	r.GET("/home", handler)
	r.GET("/api/orders", handler)
	r.GET("/super-admin/dashboard", handler)
	r.GET("/api/super-admin/tenants", handler)
	return r
}

func TestSuperAdminPathsGetStrictHeaders(t *testing.T) {
	r := headersRouter()

	for _, path := range []string{"/super-admin/dashboard", "/api/super-admin/tenants"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, 200, w.Code)
		assert.Equal(t, strictCSP, w.Header().Get("Content-Security-Policy"), path)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"), path)
		assert.Equal(t, noCache, w.Header().Get("Cache-Control"), path)
		assert.Equal(t, "no-cache", w.Header().Get("Pragma"), path)
	}
}

func TestRegularPathsGetBaseHeadersOnly(t *testing.T) {
	r := headersRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/home", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Pragma"))
}

func TestAPIPathsGetFramingProtection(t *testing.T) {
	r := headersRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestServerIdentificationHeadersStripped(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header("Server", "nginx/1.25")
		c.Header("X-Powered-By", "PHP/8.2")
		c.Next()
	})
	r.Use(SecurityHeaders(config.SecurityConfig{}))
	r.GET("/home", func(c *gin.Context) { c.String(200, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/home", nil))

	assert.Empty(t, w.Header().Get("Server"))
	assert.Empty(t, w.Header().Get("X-Powered-By"))
}

func TestHSTSOnlyOverTLS(t *testing.T) {
	r := headersRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/home", nil))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "https://admin.example.com/home", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}
