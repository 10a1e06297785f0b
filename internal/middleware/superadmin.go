package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/auth"
	"github.com/clubify/adminguard/internal/ratelimit"
	"github.com/clubify/adminguard/internal/session"
	"github.com/clubify/adminguard/internal/store"
	"github.com/clubify/adminguard/pkg/metrics"
)

// Context keys injected for downstream handlers.
const (
	CtxSuperAdminToken = "super_admin_token"
	CtxCurrentTenantID = "current_tenant_id"
	CtxPermissions     = "permissions"
	CtxSecurityContext = "security_context"
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// maliciousHeaderPatterns screen header values for injection, XSS and path
// traversal payloads before any authentication work happens.
var maliciousHeaderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)on(?:error|load|click|mouseover)\s*=`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)('|")\s*or\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i);\s*drop\s+table`),
	regexp.MustCompile(`\.\./|\.\.\\`),
	regexp.MustCompile(`(?i)%2e%2e(?:%2f|%5c)`),
	regexp.MustCompile(`\x00`),
}

// sensitiveBodyPattern flags response bodies that appear to leak credentials.
var sensitiveBodyPattern = regexp.MustCompile(`(?i)password|token|secret`)

// SuperAdminConfig tunes the orchestrator.
type SuperAdminConfig struct {
	InactivityTimeout   time.Duration
	FingerprintTTL      time.Duration
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration
}

// SuperAdmin orchestrates the privileged-route pipeline: pre-flight
// screening, rate limiting, authentication, authorization, fingerprint
// verification and context injection, auditing every denial.
type SuperAdmin struct {
	sessions     *session.Manager
	audit        *audit.Logger
	limiter      *ratelimit.Limiter
	counters     store.CounterStore
	fingerprints store.KeyedStore
	resolver     auth.PrincipalResolver
	logger       *zap.Logger
	cfg          SuperAdminConfig
	now          func() time.Time
}

// NewSuperAdmin wires the orchestrator.
func NewSuperAdmin(
	sessions *session.Manager,
	auditLogger *audit.Logger,
	limiter *ratelimit.Limiter,
	counters store.CounterStore,
	fingerprints store.KeyedStore,
	resolver auth.PrincipalResolver,
	logger *zap.Logger,
	cfg SuperAdminConfig,
) *SuperAdmin {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Minute
	}
	if cfg.FingerprintTTL <= 0 {
		cfg.FingerprintTTL = 2 * time.Hour
	}
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = 5
	}
	if cfg.SuspiciousWindow <= 0 {
		cfg.SuspiciousWindow = 24 * time.Hour
	}
	return &SuperAdmin{
		sessions:     sessions,
		audit:        auditLogger,
		limiter:      limiter,
		counters:     counters,
		fingerprints: fingerprints,
		resolver:     resolver,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *SuperAdmin) SetClock(now func() time.Time) { m.now = now }

// Handler returns the gin middleware. requiredPermission may be empty when
// the route only needs super-admin mode.
func (m *SuperAdmin) Handler(requiredPermission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := m.now()
		defer func() {
			if r := recover(); r != nil {
				// Internal details stay internal; the client sees a
				// generic envelope only.
				m.logger.Error("unhandled panic in super-admin pipeline",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stacktrace"))
				m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
					Event:    "internal_security_error",
					ClientIP: ResolveClientIP(c.Request),
					Metadata: map[string]interface{}{"path": c.Request.URL.Path},
				})
				deny(c, 500, "Internal security error", "internal_error")
			}
		}()

		clientIP := ResolveClientIP(c.Request)
		sessionID := SessionID(c.Request)
		userAgent := c.Request.UserAgent()

		if !m.preFlight(c, clientIP, sessionID, userAgent) {
			return
		}
		if !m.rateLimit(c, clientIP, sessionID, userAgent) {
			return
		}
		permissions, ok := m.authenticate(c, clientIP, sessionID, userAgent)
		if !ok {
			return
		}
		if !m.authorize(c, requiredPermission, permissions, clientIP, sessionID, userAgent) {
			return
		}
		if !m.verifyFingerprint(c, clientIP, sessionID, userAgent) {
			return
		}

		m.injectContext(c, clientIP, sessionID, permissions)

		capture := &bodyCapture{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = capture

		c.Next()

		m.postProcess(c, capture, clientIP, sessionID)

		elapsed := m.now().Sub(started)
		metrics.RequestsTotal.WithLabelValues("granted").Inc()
		metrics.RequestDuration.Observe(elapsed.Seconds())
		m.audit.LogSuperAdminAccess(c.Request.Context(), audit.Entry{
			Event:     "access_granted",
			ClientIP:  clientIP,
			SessionID: sessionID,
			UserAgent: userAgent,
			Metadata: map[string]interface{}{
				"path":               c.Request.URL.Path,
				"method":             c.Request.Method,
				"status":             c.Writer.Status(),
				"processing_time_ms": elapsed.Milliseconds(),
			},
		})
	}
}

// preFlight rejects flagged addresses, disallowed methods and malicious
// header values before any expensive work.
func (m *SuperAdmin) preFlight(c *gin.Context, clientIP, sessionID, userAgent string) bool {
	failures, err := m.counters.Count(c.Request.Context(), failureKey(clientIP))
	if err != nil {
		m.logger.Warn("failure counter read failed", zap.Error(err))
	}
	if failures >= int64(m.cfg.SuspiciousThreshold) {
		m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
			Event:     "suspicious_ip_blocked",
			ClientIP:  clientIP,
			SessionID: sessionID,
			UserAgent: userAgent,
			Metadata:  map[string]interface{}{"failed_attempts": failures},
		})
		deny(c, 403, "Access denied", "suspicious_ip_blocked")
		return false
	}

	if !allowedMethods[c.Request.Method] {
		m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
			Event:     "method_not_allowed",
			ClientIP:  clientIP,
			SessionID: sessionID,
			UserAgent: userAgent,
			Metadata:  map[string]interface{}{"method": c.Request.Method},
		})
		deny(c, 405, "Method not allowed", "method_not_allowed")
		return false
	}

	for name, values := range c.Request.Header {
		for _, value := range values {
			for _, pattern := range maliciousHeaderPatterns {
				if pattern.MatchString(value) {
					m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
						Event:     "malicious_header_detected",
						ClientIP:  clientIP,
						SessionID: sessionID,
						UserAgent: userAgent,
						Metadata: map[string]interface{}{
							"header":  name,
							"pattern": pattern.String(),
						},
					})
					deny(c, 400, "Invalid request", "malicious_header_detected")
					return false
				}
			}
		}
	}
	return true
}

func (m *SuperAdmin) rateLimit(c *gin.Context, clientIP, sessionID, userAgent string) bool {
	allowed, retryAfter, err := m.limiter.Allow(c.Request.Context(), clientIP)
	if err != nil {
		// A broken limiter must not open the gate.
		m.logger.Error("rate limiter unavailable", zap.Error(err))
		deny(c, 500, "Security validation failed", "rate_limiter_unavailable")
		return false
	}
	if !allowed {
		m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
			Event:     "rate_limit_exceeded",
			ClientIP:  clientIP,
			SessionID: sessionID,
			UserAgent: userAgent,
			Metadata:  map[string]interface{}{"retry_after_seconds": int(retryAfter.Seconds())},
		})
		denyRetryAfter(c, "Rate limit exceeded", "rate_limit_exceeded", retryAfter)
		return false
	}
	return true
}

// authenticate admits either an active bearer principal or a valid
// super-admin session; the session path also enforces the inactivity timeout.
func (m *SuperAdmin) authenticate(c *gin.Context, clientIP, sessionID, userAgent string) ([]string, bool) {
	if token, ok := bearerToken(c.Request.Header.Get("Authorization")); ok {
		principal, err := m.resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			m.recordFailure(c, clientIP)
			m.audit.LogSuperAdminAccess(c.Request.Context(), audit.Entry{
				Event:     "invalid_bearer_token",
				ClientIP:  clientIP,
				SessionID: sessionID,
				UserAgent: userAgent,
			})
			deny(c, 401, "Authentication failed", "invalid_bearer_token")
			return nil, false
		}
		if principal.Status != auth.StatusActive {
			m.recordFailure(c, clientIP)
			m.audit.LogSuperAdminAccess(c.Request.Context(), audit.Entry{
				Event:     "unauthorized_access_attempt",
				ClientIP:  clientIP,
				SessionID: sessionID,
				UserID:    principal.ID,
				UserAgent: userAgent,
				Metadata:  map[string]interface{}{"status": principal.Status},
			})
			deny(c, 403, "Access denied", "principal_inactive")
			return nil, false
		}
		c.Set("principal_id", principal.ID)
		return principal.Permissions, true
	}

	if sessionID == "" || !m.sessions.IsSuperAdminMode(c.Request.Context(), sessionID) {
		m.recordFailure(c, clientIP)
		m.audit.LogSuperAdminAccess(c.Request.Context(), audit.Entry{
			Event:     "unauthorized_access_attempt",
			ClientIP:  clientIP,
			SessionID: sessionID,
			UserAgent: userAgent,
			Metadata:  map[string]interface{}{"path": c.Request.URL.Path},
		})
		deny(c, 401, "Authentication required", "unauthorized_access_attempt")
		return nil, false
	}

	if last, ok := m.sessions.LastActivity(c.Request.Context(), sessionID); ok {
		if m.now().Sub(last) > m.cfg.InactivityTimeout {
			m.sessions.ClearSuperAdminContext(c.Request.Context(), sessionID)
			m.audit.LogSuperAdminAccess(c.Request.Context(), audit.Entry{
				Event:     "session_timeout",
				ClientIP:  clientIP,
				SessionID: sessionID,
				UserAgent: userAgent,
				Metadata:  map[string]interface{}{"last_activity": last.Format(time.RFC3339)},
			})
			deny(c, 401, "Session expired", "session_timeout")
			return nil, false
		}
	}
	m.sessions.TouchActivity(c.Request.Context(), sessionID)
	m.sessions.SetClientInfo(c.Request.Context(), sessionID, clientIP, userAgent)

	return m.sessions.Permissions(c.Request.Context(), sessionID), true
}

func (m *SuperAdmin) authorize(c *gin.Context, required string, permissions []string, clientIP, sessionID, userAgent string) bool {
	if required == "" {
		return true
	}
	for _, p := range permissions {
		if p == required {
			return true
		}
	}
	m.audit.LogAuthorizationEvent(c.Request.Context(), audit.Entry{
		Event:     "permission_denied",
		ClientIP:  clientIP,
		SessionID: sessionID,
		UserAgent: userAgent,
		Metadata:  map[string]interface{}{"required_permission": required},
	})
	deny(c, 403, "Insufficient permissions", "permission_denied")
	return false
}

// verifyFingerprint pins the session to the stable attributes of its first
// request. A mismatch is treated as hijacking: the context is destroyed.
func (m *SuperAdmin) verifyFingerprint(c *gin.Context, clientIP, sessionID, userAgent string) bool {
	if sessionID == "" {
		return true
	}
	fingerprint := computeFingerprint(
		userAgent,
		c.GetHeader("Accept-Language"),
		c.GetHeader("Accept-Encoding"),
		clientIP,
	)
	key := "fingerprint:" + sessionID

	stored, ok, err := m.fingerprints.Get(c.Request.Context(), key)
	if err != nil {
		m.logger.Warn("fingerprint store read failed", zap.Error(err))
		deny(c, 500, "Security validation failed", "fingerprint_store_unavailable")
		return false
	}
	if !ok {
		if err := m.fingerprints.Put(c.Request.Context(), key, fingerprint, m.cfg.FingerprintTTL); err != nil {
			m.logger.Warn("fingerprint store write failed", zap.Error(err))
		}
		return true
	}
	if stored == fingerprint {
		return true
	}

	m.sessions.ClearSuperAdminContext(c.Request.Context(), sessionID)
	m.recordFailure(c, clientIP)
	m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
		Event:       "session_hijacking_detected",
		Sensitivity: audit.SensitivityRestricted,
		ClientIP:    clientIP,
		SessionID:   sessionID,
		UserAgent:   userAgent,
	})
	deny(c, 401, "Session invalid", "session_hijacking_detected")
	return false
}

func (m *SuperAdmin) injectContext(c *gin.Context, clientIP, sessionID string, permissions []string) {
	if token, ok := m.sessions.GetSuperAdminToken(c.Request.Context(), sessionID); ok {
		c.Set(CtxSuperAdminToken, token)
	}
	if tenantID, ok := m.sessions.GetCurrentTenantID(c.Request.Context(), sessionID); ok {
		c.Set(CtxCurrentTenantID, tenantID)
	}
	c.Set(CtxPermissions, permissions)
	c.Set(CtxSecurityContext, map[string]interface{}{
		"validated_at": m.now().UTC().Format(time.RFC3339),
		"client_ip":    clientIP,
		"session_id":   sessionID,
		"request_id":   uuid.New().String(),
	})
}

// postProcess scans the response body for credential-looking substrings.
// Findings are logged, never blocked: the response has already shipped.
func (m *SuperAdmin) postProcess(c *gin.Context, capture *bodyCapture, clientIP, sessionID string) {
	if capture.body.Len() == 0 {
		return
	}
	if sensitiveBodyPattern.Match(capture.body.Bytes()) {
		m.audit.LogDataAccess(c.Request.Context(), audit.Entry{
			Event:     "sensitive_response_content",
			ClientIP:  clientIP,
			SessionID: sessionID,
			Metadata: map[string]interface{}{
				"path":   c.Request.URL.Path,
				"status": c.Writer.Status(),
			},
		})
	}
}

func (m *SuperAdmin) recordFailure(c *gin.Context, clientIP string) {
	if _, err := m.counters.Increment(c.Request.Context(), failureKey(clientIP), m.cfg.SuspiciousWindow); err != nil {
		m.logger.Warn("failure counter increment failed", zap.Error(err))
	}
}

func failureKey(ip string) string { return "failed_attempts:" + ip }

func computeFingerprint(userAgent, acceptLanguage, acceptEncoding, clientIP string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s", userAgent, acceptLanguage, acceptEncoding, clientIP))
	return hex.EncodeToString(sum[:])
}

// bodyCapture tees the response body for post-dispatch scanning.
type bodyCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
