// Package audit provides integrity-hashed, append-only security audit logging
// with severity classification and pattern-based threat detection.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies what part of the system an entry concerns.
type Category string

const (
	CategoryAuthentication   Category = "authentication"
	CategoryAuthorization    Category = "authorization"
	CategoryDataAccess       Category = "data_access"
	CategoryDataModification Category = "data_modification"
	CategoryConfiguration    Category = "configuration"
	CategorySecurity         Category = "security"
	CategorySystem           Category = "system"
	CategoryCompliance       Category = "compliance"
)

// Severity levels for audit entries.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sensitivity is the data-classification label of an entry.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
)

// Entry is a single append-only audit record. Entries are never updated or
// deleted by the system; retention is a compliance concern handled outside
// the request path.
type Entry struct {
	AuditID     uuid.UUID   `json:"audit_id" gorm:"primaryKey;type:uuid"`
	Event       string      `json:"event" gorm:"not null;index"`
	Category    Category    `json:"category" gorm:"not null;index"`
	Severity    Severity    `json:"severity" gorm:"not null;index"`
	Sensitivity Sensitivity `json:"sensitivity" gorm:"not null"`

	UserID    string `json:"user_id" gorm:"index"`
	SessionID string `json:"session_id" gorm:"index"`
	ClientIP  string `json:"client_ip" gorm:"index"`
	TenantID  string `json:"tenant_id" gorm:"index"`
	UserAgent string `json:"user_agent"`

	Metadata map[string]interface{} `json:"metadata" gorm:"serializer:json"`

	RequiresImmediateAttention bool   `json:"requires_immediate_attention"`
	IntegrityHash              string `json:"integrity_hash" gorm:"not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
}

// TableName pins the durable artifact's name.
func (Entry) TableName() string { return "audit_logs" }

// severityTable classifies events by name. Unmatched events default to low.
var severityTable = map[string]Severity{
	// critical
	"session_hijacking_detected":   SeverityCritical,
	"privilege_escalation_attempt": SeverityCritical,
	"brute_force_detected":         SeverityCritical,
	"audit_trail_lost":             SeverityCritical,
	"internal_security_error":      SeverityCritical,

	// high
	"unauthorized_access_attempt": SeverityHigh,
	"suspicious_ip_blocked":       SeverityHigh,
	"suspicious_activity_burst":   SeverityHigh,
	"csrf_validation_failed":      SeverityHigh,
	"ip_not_whitelisted":          SeverityHigh,
	"malicious_header_detected":   SeverityHigh,
	"permission_denied":           SeverityHigh,

	// medium
	"rate_limit_exceeded":        SeverityMedium,
	"session_timeout":            SeverityMedium,
	"invalid_bearer_token":       SeverityMedium,
	"method_not_allowed":         SeverityMedium,
	"sensitive_response_content": SeverityMedium,
	"tenant_switch_refused":      SeverityMedium,

	// low
	"access_granted":       SeverityLow,
	"authorized_ip_access": SeverityLow,
	"tenant_switched":      SeverityLow,
	"csrf_token_issued":    SeverityLow,
	"session_extended":     SeverityLow,
	"context_cleared":      SeverityLow,
}

// immediateAttention lists events that page a human no matter the hour.
var immediateAttention = map[string]bool{
	"session_hijacking_detected":   true,
	"privilege_escalation_attempt": true,
	"brute_force_detected":         true,
	"audit_trail_lost":             true,
}

func classifySeverity(event string) Severity {
	if sev, ok := severityTable[event]; ok {
		return sev
	}
	return SeverityLow
}
