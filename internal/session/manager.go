// Package session holds super-admin and tenant-impersonation context for the
// security pipeline. State is written through two independent stores so a
// session survives eviction of either one.
package session

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/clubify/adminguard/internal/store"
)

// Mode is the escalation level of the current request context.
type Mode string

const (
	ModeNormal              Mode = "normal"
	ModeSuperAdmin          Mode = "super_admin"
	ModeTenantImpersonation Mode = "tenant_impersonation"
	ModeError               Mode = "error"
)

// SuperAdminSession is the ephemeral privileged session record.
type SuperAdminSession struct {
	Token       string    `json:"token"`
	Permissions []string  `json:"permissions"`
	Mode        Mode      `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	TTL         int       `json:"ttl"`
}

// TenantContext is a tenant impersonation nested within a super-admin session.
type TenantContext struct {
	TenantID   string    `json:"tenant_id"`
	SwitchedAt time.Time `json:"switched_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Metadata is advisory session state (inactivity tracking, diagnostics).
// It is never used for authorization decisions.
type Metadata map[string]string

const (
	MetaLastActivity = "last_activity"
	MetaIPAddress    = "ip_address"
	MetaUserAgent    = "user_agent"
	MetaTenantSwitch = "last_tenant_switch"
)

// Context is the combined read-model over session, tenant and metadata state.
type Context struct {
	Mode        Mode      `json:"mode"`
	Token       string    `json:"token,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

// Manager coordinates the dual-store session state.
type Manager struct {
	primary   store.KeyedStore
	mirror    store.KeyedStore
	logger    *zap.Logger
	ttl       time.Duration
	tenantTTL time.Duration
	now       func() time.Time
}

// NewManager creates a context manager writing through primary (the request
// session store) and mirror (the shared cache).
func NewManager(primary, mirror store.KeyedStore, logger *zap.Logger, ttl, tenantTTL time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if tenantTTL <= 0 {
		tenantTTL = 30 * time.Minute
	}
	return &Manager{
		primary:   primary,
		mirror:    mirror,
		logger:    logger,
		ttl:       ttl,
		tenantTTL: tenantTTL,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func sessionKey(sid string) string { return "super_admin:session:" + sid }
func tenantKey(sid string) string  { return "super_admin:tenant:" + sid }
func metaKey(sid string) string    { return "super_admin:meta:" + sid }

// SetSuperAdminContext establishes a super-admin session. Returns false and
// logs on any storage failure (fail closed).
func (m *Manager) SetSuperAdminContext(ctx context.Context, sessionID, token string, permissions []string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	sess := SuperAdminSession{
		Token:       token,
		Permissions: permissions,
		Mode:        ModeSuperAdmin,
		StartedAt:   now,
		ExpiresAt:   now.Add(ttl),
		TTL:         int(ttl.Seconds()),
	}
	if !m.writeBoth(ctx, sessionKey(sessionID), sess, ttl) {
		return false
	}

	meta := Metadata{MetaLastActivity: now.Format(time.RFC3339)}
	if !m.writeBoth(ctx, metaKey(sessionID), meta, ttl) {
		return false
	}
	return true
}

// GetSuperAdminToken returns the session token when the session is valid.
// Reading the token refreshes the inactivity clock.
func (m *Manager) GetSuperAdminToken(ctx context.Context, sessionID string) (string, bool) {
	sess, ok := m.loadSession(ctx, sessionID)
	if !ok {
		return "", false
	}
	m.TouchActivity(ctx, sessionID)
	return sess.Token, true
}

// IsSuperAdminMode reports whether a valid super-admin session exists.
func (m *Manager) IsSuperAdminMode(ctx context.Context, sessionID string) bool {
	sess, ok := m.loadSession(ctx, sessionID)
	return ok && sess.Mode == ModeSuperAdmin
}

// SetCurrentTenant switches into a tenant context. Refused outside
// super-admin mode; the refusal is logged as a defense signal against
// context-confusion attacks.
func (m *Manager) SetCurrentTenant(ctx context.Context, sessionID, tenantID string, ttl time.Duration) bool {
	if !m.IsSuperAdminMode(ctx, sessionID) {
		m.logger.Warn("tenant switch refused outside super-admin mode",
			zap.String("session_id", sessionID),
			zap.String("tenant_id", tenantID))
		return false
	}
	if ttl <= 0 {
		ttl = m.tenantTTL
	}
	now := m.now()
	tc := TenantContext{
		TenantID:   tenantID,
		SwitchedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if !m.writeBoth(ctx, tenantKey(sessionID), tc, ttl) {
		return false
	}
	m.updateMetadata(ctx, sessionID, MetaTenantSwitch, now.Format(time.RFC3339))
	return true
}

// GetCurrentTenantID returns the impersonated tenant when the tenant context
// is still valid.
func (m *Manager) GetCurrentTenantID(ctx context.Context, sessionID string) (string, bool) {
	tc, ok := m.loadTenant(ctx, sessionID)
	if !ok {
		return "", false
	}
	return tc.TenantID, true
}

// IsInTenantContext reports whether a valid tenant impersonation exists.
func (m *Manager) IsInTenantContext(ctx context.Context, sessionID string) bool {
	_, ok := m.loadTenant(ctx, sessionID)
	return ok
}

// CurrentContext builds the single read-model over all context layers. Mode
// escalates from normal to super_admin to tenant_impersonation as each layer
// is validly present.
func (m *Manager) CurrentContext(ctx context.Context, sessionID string) Context {
	out := Context{Mode: ModeNormal}

	sess, ok := m.loadSession(ctx, sessionID)
	if !ok {
		return out
	}
	out.Mode = ModeSuperAdmin
	out.Token = sess.Token
	out.Permissions = sess.Permissions
	out.ExpiresAt = sess.ExpiresAt

	if tc, ok := m.loadTenant(ctx, sessionID); ok {
		out.Mode = ModeTenantImpersonation
		out.TenantID = tc.TenantID
	}

	if meta, ok := m.loadMetadata(ctx, sessionID); ok {
		out.Metadata = meta
	}
	return out
}

// ClearTenantContext tears down the tenant impersonation. Idempotent.
func (m *Manager) ClearTenantContext(ctx context.Context, sessionID string) {
	m.forgetBoth(ctx, tenantKey(sessionID))
}

// ClearSuperAdminContext tears down the whole privileged context: session,
// mirrored copy, tenant context and metadata. Idempotent, best-effort across
// both stores.
func (m *Manager) ClearSuperAdminContext(ctx context.Context, sessionID string) {
	m.forgetBoth(ctx, sessionKey(sessionID))
	m.forgetBoth(ctx, tenantKey(sessionID))
	m.forgetBoth(ctx, metaKey(sessionID))
}

// HasPermission reports membership in the session's permission set.
func (m *Manager) HasPermission(ctx context.Context, sessionID, permission string) bool {
	sess, ok := m.loadSession(ctx, sessionID)
	if !ok {
		return false
	}
	for _, p := range sess.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Permissions returns the session's permission set, empty when invalid.
func (m *Manager) Permissions(ctx context.Context, sessionID string) []string {
	sess, ok := m.loadSession(ctx, sessionID)
	if !ok {
		return nil
	}
	return sess.Permissions
}

// ExtendSession pushes the session expiry forward by additional.
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, additional time.Duration) bool {
	if additional <= 0 {
		return false
	}
	sess, ok := m.loadSession(ctx, sessionID)
	if !ok {
		return false
	}
	sess.ExpiresAt = sess.ExpiresAt.Add(additional)
	sess.TTL += int(additional.Seconds())
	ttl := sess.ExpiresAt.Sub(m.now())
	return m.writeBoth(ctx, sessionKey(sessionID), sess, ttl)
}

// TouchActivity refreshes the inactivity clock in the session metadata.
func (m *Manager) TouchActivity(ctx context.Context, sessionID string) {
	m.updateMetadata(ctx, sessionID, MetaLastActivity, m.now().Format(time.RFC3339))
}

// SetClientInfo records the observed client address and agent for diagnostics.
func (m *Manager) SetClientInfo(ctx context.Context, sessionID, ip, userAgent string) {
	m.updateMetadata(ctx, sessionID, MetaIPAddress, ip)
	m.updateMetadata(ctx, sessionID, MetaUserAgent, userAgent)
}

// LastActivity returns the inactivity clock. A missing or unparseable value
// is reported as absent.
func (m *Manager) LastActivity(ctx context.Context, sessionID string) (time.Time, bool) {
	meta, ok := m.loadMetadata(ctx, sessionID)
	if !ok {
		return time.Time{}, false
	}
	raw, ok := meta[MetaLastActivity]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		m.logger.Warn("unparseable last_activity treated as absent",
			zap.String("session_id", sessionID), zap.Error(err))
		return time.Time{}, false
	}
	return t, true
}

// loadSession reads the session from the primary store, falling back to the
// mirror and repopulating the primary on a hit. Expired or malformed records
// are treated as absent (fail closed).
func (m *Manager) loadSession(ctx context.Context, sessionID string) (SuperAdminSession, bool) {
	var sess SuperAdminSession
	raw, ok := m.readThrough(ctx, sessionKey(sessionID))
	if !ok {
		return sess, false
	}
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		m.logger.Warn("malformed super-admin session treated as invalid",
			zap.String("session_id", sessionID), zap.Error(err))
		return SuperAdminSession{}, false
	}
	if sess.ExpiresAt.IsZero() || !m.now().Before(sess.ExpiresAt) {
		return SuperAdminSession{}, false
	}
	return sess, true
}

func (m *Manager) loadTenant(ctx context.Context, sessionID string) (TenantContext, bool) {
	// Tenant context is only meaningful inside a valid super-admin session.
	if _, ok := m.loadSession(ctx, sessionID); !ok {
		return TenantContext{}, false
	}
	raw, ok := m.readThrough(ctx, tenantKey(sessionID))
	if !ok {
		return TenantContext{}, false
	}
	var tc TenantContext
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		m.logger.Warn("malformed tenant context treated as invalid",
			zap.String("session_id", sessionID), zap.Error(err))
		return TenantContext{}, false
	}
	if tc.ExpiresAt.IsZero() || !m.now().Before(tc.ExpiresAt) {
		return TenantContext{}, false
	}
	return tc, true
}

func (m *Manager) loadMetadata(ctx context.Context, sessionID string) (Metadata, bool) {
	raw, ok := m.readThrough(ctx, metaKey(sessionID))
	if !ok {
		return nil, false
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, false
	}
	return meta, true
}

func (m *Manager) updateMetadata(ctx context.Context, sessionID, key, value string) {
	meta, ok := m.loadMetadata(ctx, sessionID)
	if !ok {
		meta = Metadata{}
	}
	meta[key] = value

	ttl := m.ttl
	if sess, ok := m.loadSession(ctx, sessionID); ok {
		ttl = sess.ExpiresAt.Sub(m.now())
	}
	m.writeBoth(ctx, metaKey(sessionID), meta, ttl)
}

func (m *Manager) readThrough(ctx context.Context, key string) (string, bool) {
	if raw, ok, err := m.primary.Get(ctx, key); err == nil && ok {
		return raw, true
	} else if err != nil {
		m.logger.Warn("primary session store read failed", zap.String("key", key), zap.Error(err))
	}

	raw, ok, err := m.mirror.Get(ctx, key)
	if err != nil {
		m.logger.Warn("mirror session store read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	// Repopulate the primary so subsequent reads stay local.
	if err := m.primary.Put(ctx, key, raw, m.ttl); err != nil {
		m.logger.Warn("primary session store repopulation failed", zap.String("key", key), zap.Error(err))
	}
	return raw, true
}

func (m *Manager) writeBoth(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		m.logger.Error("session state marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := m.primary.Put(ctx, key, string(data), ttl); err != nil {
		m.logger.Error("primary session store write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := m.mirror.Put(ctx, key, string(data), ttl); err != nil {
		// The primary write succeeded; the mirror is resilience, not truth.
		m.logger.Warn("mirror session store write failed", zap.String("key", key), zap.Error(err))
	}
	return true
}

func (m *Manager) forgetBoth(ctx context.Context, key string) {
	if err := m.primary.Forget(ctx, key); err != nil {
		m.logger.Warn("primary session store delete failed", zap.String("key", key), zap.Error(err))
	}
	if err := m.mirror.Forget(ctx, key); err != nil {
		m.logger.Warn("mirror session store delete failed", zap.String("key", key), zap.Error(err))
	}
}
