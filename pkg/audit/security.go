// Package audit provides security audit logging for SIEM consumption.
// Security-relevant events are logged as structured JSON so downstream
// tooling can filter and alert on them.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
)

// SecurityEventType categorizes security-relevant events.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a string
	// literal in generated SQL.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventDeniedStatement is logged when the read-only guard rejects a
	// generated statement.
	EventDeniedStatement SecurityEventType = "denied_statement"
)

// SecurityEvent is one auditable event with tenant context.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    uuid.UUID         `json:"user_id,omitempty"`
	ProjectID uuid.UUID         `json:"project_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"`
}

// StatementDetails describes the offending statement. The SQL is truncated
// by the caller; full statements can embed the very payloads under audit.
type StatementDetails struct {
	SQL    string `json:"sql"`
	Reason string `json:"reason"`
}

// SecurityAuditor logs security events on a dedicated logger namespace.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a security auditor. Events carry the
// "security_audit" logger name for SIEM filtering.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a libinjection hit in generated SQL at ERROR
// level with critical severity.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details StatementDetails) {
	a.log(ctx, EventSQLInjectionAttempt, "critical", details,
		"SQL injection pattern detected in generated statement")
}

// LogDeniedStatement records a statement rejected by the read-only guard.
func (a *SecurityAuditor) LogDeniedStatement(ctx context.Context, details StatementDetails) {
	a.log(ctx, EventDeniedStatement, "warning", details,
		"Generated statement rejected by read-only guard")
}

func (a *SecurityAuditor) log(ctx context.Context, eventType SecurityEventType, severity string, details StatementDetails, message string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Details:   details,
		Severity:  severity,
	}
	if scope, ok := database.GetTenantScope(ctx); ok {
		event.UserID = scope.UserID
		event.ProjectID = scope.ProjectID
	}

	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(eventType)),
		zap.String("severity", severity),
		zap.String("reason", details.Reason),
	}
	if severity == "critical" {
		a.logger.Error(message, fields...)
		return
	}
	a.logger.Warn(message, fields...)
}
