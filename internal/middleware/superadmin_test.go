package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/auth"
	"github.com/clubify/adminguard/internal/ratelimit"
	"github.com/clubify/adminguard/internal/session"
	"github.com/clubify/adminguard/internal/store"
)

type superAdminHarness struct {
	sessions *session.Manager
	router   *gin.Engine
	db       *gorm.DB
}

func newSuperAdminHarness(t *testing.T, rateLimit int, cfg SuperAdminConfig) *superAdminHarness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	auditLogger, db := newAuditLogger(t)
	cache := store.NewRedisStore(client, "test")
	sessions := session.NewManager(store.NewMemoryStore(), store.NewMemoryStore(), zap.NewNop(), time.Hour, time.Hour)
	limiter := ratelimit.NewLimiter(client, "test:rl", rateLimit, time.Minute)
	resolver := auth.NewJWTResolver("secret")

	m := NewSuperAdmin(sessions, auditLogger, limiter, cache, cache, resolver, zap.NewNop(), cfg)

	granted := func(c *gin.Context) {
		_, hasContext := c.Get(CtxSecurityContext)
		c.JSON(200, gin.H{"success": true, "has_context": hasContext})
	}
	r := gin.New()
	r.GET("/api/super-admin/tenants", m.Handler("tenant.switch"), granted)
	r.GET("/api/super-admin/context", m.Handler(""), granted)
	r.Handle("TRACE", "/api/super-admin/context", m.Handler(""), granted)
	r.GET("/api/super-admin/leak", m.Handler(""), func(c *gin.Context) {
		c.String(200, "the password is hunter2")
	})
	return &superAdminHarness{sessions: sessions, router: r, db: db}
}

func (h *superAdminHarness) establishSession(t *testing.T, sessionID string, permissions []string) {
	t.Helper()
	require.True(t, h.sessions.SetSuperAdminContext(context.Background(), sessionID, "tok-abc", permissions, 0))
}

func (h *superAdminHarness) request(method, path, sessionID, userAgent string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:4000"
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req
}

func (h *superAdminHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func superAdminBearer(t *testing.T, status string, permissions []string) string {
	t.Helper()
	claims := auth.Claims{
		Status:      status,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestDeniesUnauthenticatedRequest(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})

	w := h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "", "agent-one"))

	assert.Equal(t, 401, w.Code)
	assert.Equal(t, "unauthorized_access_attempt", denialReason(t, w))
	assert.EqualValues(t, 1, auditCount(t, h.db, "unauthorized_access_attempt"))
}

func TestGrantsValidSession(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})
	h.establishSession(t, "sid-1", []string{"tenant.switch"})

	w := h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "sid-1", "agent-one"))
	require.Equal(t, 200, w.Code)

	var body struct {
		Success    bool `json:"success"`
		HasContext bool `json:"has_context"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.HasContext)

	var entry audit.Entry
	require.NoError(t, h.db.First(&entry, "event = ?", "access_granted").Error)
	elapsed, ok := entry.Metadata["processing_time_ms"]
	require.True(t, ok, "access_granted should record processing time")
	assert.GreaterOrEqual(t, elapsed.(float64), float64(0))
}

func TestFingerprintMismatchDestroysSession(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})
	h.establishSession(t, "sid-1", []string{"tenant.switch"})

	// First request pins the fingerprint.
	w := h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "sid-1", "agent-one"))
	require.Equal(t, 200, w.Code)

	// A different user agent on the same session is treated as hijacking.
	w = h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "sid-1", "agent-two"))
	assert.Equal(t, 401, w.Code)
	assert.Equal(t, "session_hijacking_detected", denialReason(t, w))
	assert.EqualValues(t, 1, auditCount(t, h.db, "session_hijacking_detected"))
	assert.False(t, h.sessions.IsSuperAdminMode(context.Background(), "sid-1"))
}

func TestRateLimitExceeded(t *testing.T) {
	h := newSuperAdminHarness(t, 1, SuperAdminConfig{})
	h.establishSession(t, "sid-1", []string{"tenant.switch"})

	w := h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "sid-1", "agent-one"))
	require.Equal(t, 200, w.Code)

	w = h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "sid-1", "agent-one"))
	assert.Equal(t, 429, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.EqualValues(t, 1, auditCount(t, h.db, "rate_limit_exceeded"))
}

func TestDisallowedMethodRejected(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})

	w := h.do(h.request("TRACE", "/api/super-admin/context", "", "agent-one"))
	assert.Equal(t, 405, w.Code)
	assert.EqualValues(t, 1, auditCount(t, h.db, "method_not_allowed"))
}

func TestMaliciousHeaderRejected(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})

	req := h.request(http.MethodGet, "/api/super-admin/context", "", "agent-one")
	req.Header.Set("X-Custom", "<script>alert(1)</script>")

	w := h.do(req)
	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "malicious_header_detected", denialReason(t, w))
	assert.EqualValues(t, 1, auditCount(t, h.db, "malicious_header_detected"))
}

func TestBearerPrincipalGranted(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})

	req := h.request(http.MethodGet, "/api/super-admin/tenants", "", "agent-one")
	req.Header.Set("Authorization", "Bearer "+superAdminBearer(t, auth.StatusActive, []string{"tenant.switch"}))

	assert.Equal(t, 200, h.do(req).Code)
	assert.EqualValues(t, 1, auditCount(t, h.db, "access_granted"))
}

func TestInactivePrincipalRejected(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})

	req := h.request(http.MethodGet, "/api/super-admin/tenants", "", "agent-one")
	req.Header.Set("Authorization", "Bearer "+superAdminBearer(t, "suspended", []string{"tenant.switch"}))

	w := h.do(req)
	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "principal_inactive", denialReason(t, w))
}

func TestRepeatedFailuresBlockAddress(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{SuspiciousThreshold: 2})

	for i := 0; i < 2; i++ {
		req := h.request(http.MethodGet, "/api/super-admin/tenants", "", "agent-one")
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := h.do(req)
		require.Equal(t, 401, w.Code)
		require.Equal(t, "invalid_bearer_token", denialReason(t, w))
	}

	// Even a valid credential is refused once the address is flagged.
	req := h.request(http.MethodGet, "/api/super-admin/tenants", "", "agent-one")
	req.Header.Set("Authorization", "Bearer "+superAdminBearer(t, auth.StatusActive, []string{"tenant.switch"}))
	w := h.do(req)
	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "suspicious_ip_blocked", denialReason(t, w))
}

func TestPermissionDenied(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})
	h.establishSession(t, "sid-1", []string{"tenant.read"})

	w := h.do(h.request(http.MethodGet, "/api/super-admin/tenants", "sid-1", "agent-one"))
	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "permission_denied", denialReason(t, w))
	assert.EqualValues(t, 1, auditCount(t, h.db, "permission_denied"))
}

func TestSensitiveResponseContentLogged(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{})
	h.establishSession(t, "sid-1", nil)

	w := h.do(h.request(http.MethodGet, "/api/super-admin/leak", "sid-1", "agent-one"))
	assert.Equal(t, 200, w.Code)
	assert.EqualValues(t, 1, auditCount(t, h.db, "sensitive_response_content"))
}

func TestSessionInactivityTimeout(t *testing.T) {
	h := newSuperAdminHarness(t, 100, SuperAdminConfig{InactivityTimeout: 30 * time.Minute})
	h.establishSession(t, "sid-1", nil)

	// Warm request pins fingerprint and records activity.
	w := h.do(h.request(http.MethodGet, "/api/super-admin/context", "sid-1", "agent-one"))
	require.Equal(t, 200, w.Code)

	// Age the recorded activity past the timeout.
	last := time.Now().Add(-time.Hour)
	h.sessions.SetClock(func() time.Time { return last })
	h.sessions.TouchActivity(context.Background(), "sid-1")
	h.sessions.SetClock(time.Now)

	w = h.do(h.request(http.MethodGet, "/api/super-admin/context", "sid-1", "agent-one"))
	assert.Equal(t, 401, w.Code)
	assert.Equal(t, "session_timeout", denialReason(t, w))
	assert.False(t, h.sessions.IsSuperAdminMode(context.Background(), "sid-1"))
	assert.EqualValues(t, 1, auditCount(t, h.db, "session_timeout"))
}
