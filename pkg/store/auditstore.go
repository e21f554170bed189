package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/masking"
	"github.com/vigil-ops/vigil/pkg/models"
)

// AuditStore appends action lifecycle and safety events. Event data is
// passed through the redactor before it reaches disk; the audit log is
// derived from state changes and is never the source of truth.
type AuditStore struct {
	db       *database.Client
	redactor *masking.Redactor
}

// NewAuditStore creates an audit store. The redactor must not be nil.
func NewAuditStore(db *database.Client, redactor *masking.Redactor) *AuditStore {
	if redactor == nil {
		panic("auditstore: redactor is required")
	}
	return &AuditStore{db: db, redactor: redactor}
}

// Append writes one audit event. Secrets in event data are redacted.
func (s *AuditStore) Append(ctx context.Context, proposalID *int64, eventType models.AuditEventType, eventData map[string]any, actor string) error {
	data := models.JSONMap(s.redactor.RedactMap(eventData))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_audit_log (proposal_id, event_type, event_data, actor, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		proposalID, eventType, data, actor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", eventType, err)
	}
	return nil
}

// ListByProposal returns the proposal's events, oldest first.
func (s *AuditStore) ListByProposal(ctx context.Context, proposalID int64) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM action_audit_log WHERE proposal_id = ?
		ORDER BY created_at ASC, id ASC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list audit events for proposal %d: %w", proposalID, err)
	}
	return events, nil
}

// ListBetween returns events in [from, to), oldest first. The eval harness
// uses this to extract the commands executed during a trial window.
func (s *AuditStore) ListBetween(ctx context.Context, from, to time.Time) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM action_audit_log WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list audit events between %s and %s: %w", from, to, err)
	}
	return events, nil
}

// ListByType returns all events of one type, oldest first.
func (s *AuditStore) ListByType(ctx context.Context, eventType models.AuditEventType) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM action_audit_log WHERE event_type = ?
		ORDER BY created_at ASC, id ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("list audit events of type %s: %w", eventType, err)
	}
	return events, nil
}
