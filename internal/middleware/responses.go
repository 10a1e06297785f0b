// Package middleware implements the super-admin security pipeline: security
// headers, IP whitelisting, API CSRF validation and the super-admin
// orchestrator itself.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clubify/adminguard/pkg/metrics"
)

// denialBody is the uniform JSON envelope returned on every denial.
type denialBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// deny writes the uniform denial envelope and aborts the chain. The message
// is always a generic, client-safe string; reason is the machine-readable
// code used for audit correlation and metrics.
func deny(c *gin.Context, status int, message, reason string) {
	metrics.DenialsTotal.WithLabelValues(reason, fmt.Sprintf("%d", status)).Inc()
	metrics.RequestsTotal.WithLabelValues("denied").Inc()
	c.AbortWithStatusJSON(status, denialBody{
		Success:   false,
		Message:   message,
		Error:     reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// denyRetryAfter is deny plus the machine-readable retry hint for 429s.
func denyRetryAfter(c *gin.Context, message, reason string, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	metrics.RateLimitHits.Inc()
	metrics.DenialsTotal.WithLabelValues(reason, "429").Inc()
	metrics.RequestsTotal.WithLabelValues("denied").Inc()
	c.Header("Retry-After", fmt.Sprintf("%d", seconds))
	c.AbortWithStatusJSON(429, gin.H{
		"success":     false,
		"message":     message,
		"error":       reason,
		"retry_after": seconds,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
