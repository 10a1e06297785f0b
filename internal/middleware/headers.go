package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clubify/adminguard/internal/config"
)

const (
	strictCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	noCache   = "no-store, no-cache, must-revalidate, private"
)

// serverHeaders identify the backing stack and are stripped from every
// response.
var serverHeaders = []string{
	"Server",
	"X-Powered-By",
	"X-AspNet-Version",
	"X-AspNetMvc-Version",
	"X-Generator",
}

// SecurityHeaders applies the configured header map to every response, with
// stricter overrides for super-admin and API routes.
func SecurityHeaders(cfg config.SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, value := range cfg.Headers {
			c.Header(name, value)
		}

		path := c.Request.URL.Path
		if isSuperAdminPath(path) {
			c.Header("Content-Security-Policy", strictCSP)
			c.Header("X-Frame-Options", "DENY")
			c.Header("Cache-Control", noCache)
			c.Header("Pragma", "no-cache")
		} else if isAPIPath(path) {
			c.Header("X-Content-Type-Options", "nosniff")
			c.Header("X-Frame-Options", "DENY")
		}

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		for _, name := range serverHeaders {
			c.Writer.Header().Del(name)
		}

		c.Next()
	}
}

func isSuperAdminPath(path string) bool {
	trimmed := strings.TrimPrefix(path, "/")
	return strings.Contains(path, "/super-admin/") ||
		strings.HasPrefix(trimmed, "super-admin") ||
		strings.HasPrefix(trimmed, "api/super-admin")
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(strings.TrimPrefix(path, "/"), "api/")
}
