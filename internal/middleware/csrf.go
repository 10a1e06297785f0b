package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/auth"
	"github.com/clubify/adminguard/internal/store"
)

const (
	csrfHeader = "X-CSRF-Token"
	csrfCookie = "csrf_token"
	csrfField  = "_token"
)

// CSRF failure reasons reported in audit entries and denial envelopes.
const (
	reasonNoToken          = "no_token_provided"
	reasonInvalidHeader    = "invalid_header_token"
	reasonInvalidSubmitted = "invalid_submitted_token"
	reasonTokenMismatch    = "token_mismatch"
	reasonInvalidOrigin    = "invalid_origin"
	reasonUnknownFailure   = "unknown_csrf_failure"
)

// CSRFConfig tunes the CSRF middleware.
type CSRFConfig struct {
	ProtectedMethods []string
	SkipPaths        []string
	SafeContentTypes []string
	TokenTTL         time.Duration
	IssuanceLimit    int
	IssuanceWindow   time.Duration
}

// tokenRecord binds an issued token to the (ip, session) pair that requested
// it. Divergence of either rejects the token.
type tokenRecord struct {
	Token      string    `json:"token"`
	IP         string    `json:"ip"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// CSRF validates state-changing requests through header tokens, the
// double-submit cookie pattern, and an origin fallback.
type CSRF struct {
	tokens   store.KeyedStore
	counters store.CounterStore
	audit    *audit.Logger
	resolver auth.PrincipalResolver
	logger   *zap.Logger
	cfg      CSRFConfig
	now      func() time.Time
}

// NewCSRF creates the CSRF middleware. resolver may be nil, disabling the
// authenticated-API bypass.
func NewCSRF(tokens store.KeyedStore, counters store.CounterStore, auditLogger *audit.Logger, resolver auth.PrincipalResolver, logger *zap.Logger, cfg CSRFConfig) *CSRF {
	if len(cfg.ProtectedMethods) == 0 {
		cfg.ProtectedMethods = []string{"POST", "PUT", "PATCH", "DELETE"}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.IssuanceLimit <= 0 {
		cfg.IssuanceLimit = 10
	}
	if cfg.IssuanceWindow <= 0 {
		cfg.IssuanceWindow = time.Hour
	}
	return &CSRF{
		tokens:   tokens,
		counters: counters,
		audit:    auditLogger,
		resolver: resolver,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *CSRF) SetClock(now func() time.Time) { m.now = now }

// Handler returns the gin middleware. methods overrides the protected set
// when non-empty.
func (m *CSRF) Handler(methods ...string) gin.HandlerFunc {
	protected := m.cfg.ProtectedMethods
	if len(methods) > 0 {
		protected = methods
	}
	protectedSet := make(map[string]bool, len(protected))
	for _, method := range protected {
		protectedSet[strings.ToUpper(strings.TrimSpace(method))] = true
	}

	return func(c *gin.Context) {
		if !protectedSet[c.Request.Method] {
			c.Next()
			return
		}
		if m.skipPath(c.Request.URL.Path) {
			c.Next()
			return
		}
		if m.safeAPIRequest(c) {
			c.Next()
			return
		}

		reason, ok := m.validate(c)
		if ok {
			c.Next()
			return
		}

		m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
			Event:     "csrf_validation_failed",
			ClientIP:  ResolveClientIP(c.Request),
			SessionID: SessionID(c.Request),
			UserAgent: c.Request.UserAgent(),
			Metadata: map[string]interface{}{
				"failure_reason": reason,
				"path":           c.Request.URL.Path,
				"method":         c.Request.Method,
			},
		})
		deny(c, 403, "CSRF validation failed", reason)
	}
}

func (m *CSRF) skipPath(path string) bool {
	for _, skip := range m.cfg.SkipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

// safeAPIRequest reports whether the request carries a safe content type and
// independently-valid API authentication, which together bypass CSRF checks.
func (m *CSRF) safeAPIRequest(c *gin.Context) bool {
	if m.resolver == nil {
		return false
	}
	contentType := strings.ToLower(c.ContentType())
	safe := false
	for _, ct := range m.cfg.SafeContentTypes {
		if strings.HasPrefix(contentType, strings.ToLower(ct)) {
			safe = true
			break
		}
	}
	if !safe {
		return false
	}
	token, ok := bearerToken(c.Request.Header.Get("Authorization"))
	if !ok {
		return false
	}
	principal, err := m.resolver.Resolve(c.Request.Context(), token)
	return err == nil && principal.Status == auth.StatusActive
}

// validate tries each strategy in order until one succeeds. The returned
// reason describes the most specific failure observed.
func (m *CSRF) validate(c *gin.Context) (string, bool) {
	clientIP := ResolveClientIP(c.Request)
	sessionID := SessionID(c.Request)

	headerToken := c.GetHeader(csrfHeader)
	cookieToken := ""
	if cookie, err := c.Request.Cookie(csrfCookie); err == nil {
		cookieToken = cookie.Value
	}
	submittedToken := c.PostForm(csrfField)
	if submittedToken == "" {
		submittedToken = headerToken
	}

	if headerToken == "" && cookieToken == "" && submittedToken == "" {
		return reasonNoToken, false
	}

	// Strategy 1: header token bound to the requesting (ip, session).
	if headerToken != "" {
		if m.tokenValid(c.Request.Context(), headerToken, clientIP, sessionID) {
			return "", true
		}
		if cookieToken == "" {
			return reasonInvalidHeader, false
		}
	}

	// Strategy 2: double-submit cookie.
	if cookieToken != "" {
		if submittedToken == "" {
			return reasonInvalidSubmitted, false
		}
		if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(submittedToken)) != 1 {
			return reasonTokenMismatch, false
		}
		if m.tokenValid(c.Request.Context(), cookieToken, clientIP, sessionID) {
			return "", true
		}
		return reasonInvalidSubmitted, false
	}

	// Strategy 3: origin/referer host fallback.
	if origin := originHost(c); origin != "" {
		if origin == requestHost(c) {
			return "", true
		}
		return reasonInvalidOrigin, false
	}

	return reasonUnknownFailure, false
}

// tokenValid checks the cached record: unexpired and bound to the same
// (ip, session) pair. A hit refreshes last_used_at.
func (m *CSRF) tokenValid(ctx context.Context, token, clientIP, sessionID string) bool {
	raw, ok, err := m.tokens.Get(ctx, tokenCacheKey(token))
	if err != nil || !ok {
		return false
	}
	var record tokenRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return false
	}
	if !m.now().Before(record.ExpiresAt) {
		return false
	}
	if record.IP != clientIP || record.SessionID != sessionID {
		return false
	}

	record.LastUsedAt = m.now()
	if data, err := json.Marshal(record); err == nil {
		ttl := record.ExpiresAt.Sub(m.now())
		_ = m.tokens.Put(ctx, tokenCacheKey(token), string(data), ttl)
	}
	return true
}

// GenerateToken issues a cryptographically random token bound to the caller.
// Issuance is itself rate-limited per IP.
func (m *CSRF) GenerateToken(c *gin.Context) {
	clientIP := ResolveClientIP(c.Request)
	count, err := m.counters.Increment(c.Request.Context(), "csrf_issuance:"+clientIP, m.cfg.IssuanceWindow)
	if err != nil {
		m.logger.Error("csrf issuance counter failed", zap.Error(err))
		deny(c, 500, "Internal security error", "token_issuance_failed")
		return
	}
	if count > int64(m.cfg.IssuanceLimit) {
		denyRetryAfter(c, "Too many token requests", "csrf_issuance_limited", m.cfg.IssuanceWindow)
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		m.logger.Error("csrf token generation failed", zap.Error(err))
		deny(c, 500, "Internal security error", "token_generation_failed")
		return
	}
	token := hex.EncodeToString(buf)

	now := m.now()
	record := tokenRecord{
		Token:     token,
		IP:        clientIP,
		SessionID: SessionID(c.Request),
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TokenTTL),
	}
	data, err := json.Marshal(record)
	if err != nil {
		deny(c, 500, "Internal security error", "token_generation_failed")
		return
	}
	if err := m.tokens.Put(c.Request.Context(), tokenCacheKey(token), string(data), m.cfg.TokenTTL); err != nil {
		m.logger.Error("csrf token cache write failed", zap.Error(err))
		deny(c, 500, "Internal security error", "token_generation_failed")
		return
	}

	m.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
		Event:     "csrf_token_issued",
		ClientIP:  clientIP,
		SessionID: record.SessionID,
		UserAgent: c.Request.UserAgent(),
	})

	c.SetCookie(csrfCookie, token, int(m.cfg.TokenTTL.Seconds()), "/", "", c.Request.TLS != nil, false)
	c.JSON(200, gin.H{
		"success":    true,
		"token":      token,
		"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func tokenCacheKey(token string) string { return "csrf:token:" + token }

func originHost(c *gin.Context) string {
	for _, header := range []string{"Origin", "Referer"} {
		raw := c.GetHeader(header)
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Hostname()
		}
	}
	return ""
}

func requestHost(c *gin.Context) string {
	host := c.Request.Host
	if u, err := url.Parse("//" + host); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return "", false
	}
	token := strings.TrimSpace(value[len(prefix):])
	return token, token != ""
}
