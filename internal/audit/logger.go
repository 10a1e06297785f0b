package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubify/adminguard/pkg/metrics"
)

// Notifier delivers critical entries to an out-of-band channel. Delivery is
// fire-and-forget; queue failures never surface to the request path.
type Notifier interface {
	Notify(ctx context.Context, entry *Entry) error
}

// NoopNotifier drops notifications. Used when the message queue is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, *Entry) error { return nil }

// Config tunes the audit logger.
type Config struct {
	HMACSecret       string
	EmergencyLogPath string
}

// Logger persists audit entries and runs pattern analysis over recent history.
type Logger struct {
	db       *gorm.DB
	logger   *zap.Logger
	security *zap.Logger
	notifier Notifier
	analyzer *PatternAnalyzer
	secret   []byte
	emgPath  string
	now      func() time.Time
}

// NewLogger creates an audit logger. security is the dedicated channel for
// critical findings; notifier may be nil.
func NewLogger(db *gorm.DB, logger, security *zap.Logger, notifier Notifier, cfg Config) *Logger {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	l := &Logger{
		db:       db,
		logger:   logger,
		security: security,
		notifier: notifier,
		secret:   []byte(cfg.HMACSecret),
		emgPath:  cfg.EmergencyLogPath,
		now:      time.Now,
	}
	l.analyzer = NewPatternAnalyzer(db, l)
	return l
}

// SetClock overrides the time source. Test hook.
func (l *Logger) SetClock(now func() time.Time) { l.now = now }

// LogSuperAdminAccess records a privileged access decision.
func (l *Logger) LogSuperAdminAccess(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategoryAuthentication
	return l.LogEvent(ctx, entry)
}

// LogSecurityEvent records a security signal and feeds the pattern analyzer.
func (l *Logger) LogSecurityEvent(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategorySecurity
	return l.LogEvent(ctx, entry)
}

// LogDataAccess records a read of protected data.
func (l *Logger) LogDataAccess(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategoryDataAccess
	return l.LogEvent(ctx, entry)
}

// LogDataModification records a write to protected data.
func (l *Logger) LogDataModification(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategoryDataModification
	return l.LogEvent(ctx, entry)
}

// LogConfigurationChange records a configuration mutation.
func (l *Logger) LogConfigurationChange(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategoryConfiguration
	return l.LogEvent(ctx, entry)
}

// LogAuthorizationEvent records a permission decision.
func (l *Logger) LogAuthorizationEvent(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategoryAuthorization
	return l.LogEvent(ctx, entry)
}

// LogSystemEvent records an operational event.
func (l *Logger) LogSystemEvent(ctx context.Context, entry Entry) *Entry {
	entry.Category = CategorySystem
	return l.LogEvent(ctx, entry)
}

// LogEvent is the single funnel every entry point feeds. It assigns defaults,
// classifies severity, sanitizes metadata, seals the entry with an HMAC and
// persists it transactionally. Persistence failure degrades to an emergency
// file and finally to a bare log line; it never propagates to the caller.
func (l *Logger) LogEvent(ctx context.Context, entry Entry) *Entry {
	if entry.AuditID == uuid.Nil {
		entry.AuditID = uuid.New()
	}
	if entry.Category == "" {
		entry.Category = CategorySystem
	}
	if entry.Severity == "" {
		entry.Severity = classifySeverity(entry.Event)
	}
	if entry.Sensitivity == "" {
		entry.Sensitivity = SensitivityInternal
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	entry.RequiresImmediateAttention = immediateAttention[entry.Event]
	entry.Metadata = sanitizeMetadata(entry.Metadata)
	entry.IntegrityHash = l.ComputeHash(&entry)

	if err := l.persist(&entry); err != nil {
		metrics.AuditFailures.WithLabelValues("primary").Inc()
		l.logger.Error("audit persistence failed, degrading to emergency log",
			zap.String("event", entry.Event), zap.Error(err))
		l.emergencyWrite(&entry)
	}

	if entry.RequiresImmediateAttention {
		l.security.Error("critical audit event",
			zap.String("event", entry.Event),
			zap.String("audit_id", entry.AuditID.String()),
			zap.String("client_ip", entry.ClientIP))
		go func(e Entry) {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.notifier.Notify(nctx, &e); err != nil {
				l.logger.Warn("critical event notification failed", zap.Error(err))
			}
		}(entry)
	}

	if entry.Category == CategorySecurity {
		l.analyzer.Analyze(ctx, &entry)
	}

	return &entry
}

// VerifyIntegrity recomputes the entry's HMAC and compares it to the stored
// hash, detecting any post-write mutation.
func (l *Logger) VerifyIntegrity(entry *Entry) bool {
	expected := l.ComputeHash(entry)
	return hmac.Equal([]byte(expected), []byte(entry.IntegrityHash))
}

// ComputeHash seals the canonicalized entry (hash field excluded) with
// HMAC-SHA256.
func (l *Logger) ComputeHash(entry *Entry) string {
	canonical := map[string]interface{}{
		"audit_id":                     entry.AuditID.String(),
		"event":                        entry.Event,
		"category":                     string(entry.Category),
		"severity":                     string(entry.Severity),
		"sensitivity":                  string(entry.Sensitivity),
		"user_id":                      entry.UserID,
		"session_id":                   entry.SessionID,
		"client_ip":                    entry.ClientIP,
		"tenant_id":                    entry.TenantID,
		"user_agent":                   entry.UserAgent,
		"metadata":                     entry.Metadata,
		"requires_immediate_attention": entry.RequiresImmediateAttention,
		"created_at":                   entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	// Map marshaling sorts keys, giving a stable canonical form.
	data, err := json.Marshal(canonical)
	if err != nil {
		l.logger.Error("audit canonicalization failed", zap.Error(err))
		return ""
	}
	mac := hmac.New(sha256.New, l.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) persist(entry *Entry) error {
	// Transactional so the row and its integrity hash land together.
	return l.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(entry).Error
	})
}

// emergencyWrite appends the entry as JSONL to the emergency file. Failure of
// this last resort is recorded and swallowed: losing the trail must never
// block the request pipeline, but must leave a trace that it was lost.
func (l *Logger) emergencyWrite(entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.auditTrailLost(err)
		return
	}
	f, err := os.OpenFile(l.emgPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.auditTrailLost(err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		l.auditTrailLost(err)
	}
}

func (l *Logger) auditTrailLost(err error) {
	metrics.AuditFailures.WithLabelValues("emergency").Inc()
	l.security.Error("audit trail lost: emergency log write failed", zap.Error(err))
}

// redactedKeywords flags metadata keys whose values must never be persisted.
var redactedKeywords = []string{
	"password", "token", "secret", "key", "authorization",
	"cookie", "session", "csrf_token", "api_key",
}

func sanitizeMetadata(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = sanitizeMetadata(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range redactedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
