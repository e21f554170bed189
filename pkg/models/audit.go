package models

import "time"

// AuditEventType names an action lifecycle or safety event.
type AuditEventType string

// Audit event types. The audit log is append-only and derived from state
// changes; it is never the source of truth.
const (
	AuditEventProposed        AuditEventType = "proposed"
	AuditEventValidated       AuditEventType = "validated"
	AuditEventExecuting       AuditEventType = "executing"
	AuditEventCompleted       AuditEventType = "completed"
	AuditEventFailed          AuditEventType = "failed"
	AuditEventCancelled       AuditEventType = "cancelled"
	AuditEventKillSwitch      AuditEventType = "kill_switch"
	AuditEventModeChange      AuditEventType = "mode_change"
	AuditEventRetryScheduled  AuditEventType = "retry_scheduled"
	AuditEventRetryExhausted  AuditEventType = "retry_exhausted"
	AuditEventWorkflowCreated AuditEventType = "workflow_created"
)

// AuditEvent records one lifecycle transition or safety event. EventData
// is event-specific structured content with all secrets redacted before
// persistence.
type AuditEvent struct {
	ID         int64          `db:"id"`
	ProposalID *int64         `db:"proposal_id"`
	EventType  AuditEventType `db:"event_type"`
	EventData  JSONMap        `db:"event_data"`
	Actor      string         `db:"actor"`
	Timestamp  time.Time      `db:"created_at"`
}
