package audit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Pattern thresholds over the trailing hour, keyed by client IP.
const (
	burstThreshold      = 10 // security events
	bruteForceThreshold = 5  // failed authentication events
	escalationThreshold = 3  // denied authorization events
	patternWindow       = time.Hour
)

// failedAuthEvents are the authentication outcomes counted toward brute force.
var failedAuthEvents = []string{
	"unauthorized_access_attempt",
	"invalid_bearer_token",
	"session_timeout",
	"session_hijacking_detected",
}

// deniedAuthzEvents are the authorization outcomes counted toward escalation.
var deniedAuthzEvents = []string{
	"permission_denied",
	"tenant_switch_refused",
}

// detectorEvents are emitted by the analyzer itself and exempt from
// re-analysis, bounding the detection feedback loop to depth one.
var detectorEvents = map[string]bool{
	"suspicious_activity_burst":    true,
	"brute_force_detected":         true,
	"privilege_escalation_attempt": true,
}

// PatternAnalyzer re-queries recent audit history on every security event to
// detect sustained attack patterns from a single address.
type PatternAnalyzer struct {
	db     *gorm.DB
	logger *Logger
}

// NewPatternAnalyzer binds the analyzer to the audit store and its logger.
func NewPatternAnalyzer(db *gorm.DB, logger *Logger) *PatternAnalyzer {
	return &PatternAnalyzer{db: db, logger: logger}
}

// Analyze inspects the trailing window for the entry's client IP and emits an
// escalated security event per detected pattern.
func (a *PatternAnalyzer) Analyze(ctx context.Context, entry *Entry) {
	if entry.ClientIP == "" || detectorEvents[entry.Event] {
		return
	}
	since := a.logger.now().Add(-patternWindow)

	if n := a.count(ctx, entry.ClientIP, since, CategorySecurity, nil); n >= burstThreshold {
		a.escalate(ctx, entry, "suspicious_activity_burst", n)
	}
	if n := a.count(ctx, entry.ClientIP, since, "", failedAuthEvents); n >= bruteForceThreshold {
		a.escalate(ctx, entry, "brute_force_detected", n)
	}
	if n := a.count(ctx, entry.ClientIP, since, "", deniedAuthzEvents); n >= escalationThreshold {
		a.escalate(ctx, entry, "privilege_escalation_attempt", n)
	}
}

func (a *PatternAnalyzer) count(ctx context.Context, ip string, since time.Time, category Category, events []string) int64 {
	q := a.db.WithContext(ctx).Model(&Entry{}).
		Where("client_ip = ? AND created_at > ?", ip, since)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if len(events) > 0 {
		q = q.Where("event IN ?", events)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0
	}
	return n
}

func (a *PatternAnalyzer) escalate(ctx context.Context, trigger *Entry, event string, observed int64) {
	a.logger.LogSecurityEvent(ctx, Entry{
		Event:       event,
		Sensitivity: SensitivityRestricted,
		ClientIP:    trigger.ClientIP,
		SessionID:   trigger.SessionID,
		UserAgent:   trigger.UserAgent,
		Metadata: map[string]interface{}{
			"trigger_event":  trigger.Event,
			"observed_count": observed,
			"window_seconds": int(patternWindow.Seconds()),
		},
	})
}
