package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/models"
)

// ActionStore persists action proposals, execution records, workflows,
// and their approval/retry state.
type ActionStore struct {
	db *database.Client
}

// NewActionStore creates an action store over an open actions database.
func NewActionStore(db *database.Client) *ActionStore {
	return &ActionStore{db: db}
}

// CreateProposal inserts a new proposal. Status, timestamps, and counters
// are initialized here; the caller fills intent and identity fields.
func (s *ActionStore) CreateProposal(ctx context.Context, p *models.ActionProposal) (*models.ActionProposal, error) {
	now := time.Now().UTC()
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO action_proposals (
			ticket_id, action_name, action_type, parameters, reason, status,
			requester_id, requester_type, agent_id,
			workflow_id, execution_order, depends_on_proposal_id,
			scheduled_at, retry_count, max_retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		p.TicketID, p.ActionName, p.ActionType, p.Parameters, p.Reason,
		models.ProposalStatusProposed,
		p.RequesterID, p.RequesterType, p.AgentID,
		p.WorkflowID, p.ExecutionOrder, p.DependsOnProposalID,
		p.ScheduledAt, p.MaxRetries, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert proposal %q: %w", p.ActionName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetProposal(ctx, id)
}

// GetProposal returns the proposal by id.
func (s *ActionStore) GetProposal(ctx context.Context, id int64) (*models.ActionProposal, error) {
	var p models.ActionProposal
	err := s.db.GetContext(ctx, &p, `SELECT * FROM action_proposals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %d: %w", id, err)
	}
	return &p, nil
}

// ListProposals returns proposals, optionally filtered by status, oldest first.
func (s *ActionStore) ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.ActionProposal, error) {
	var proposals []models.ActionProposal
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &proposals,
			`SELECT * FROM action_proposals ORDER BY created_at ASC, id ASC`)
	} else {
		err = s.db.SelectContext(ctx, &proposals,
			`SELECT * FROM action_proposals WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// TransitionStatus performs a compare-and-set status update. Returns
// ErrInvalidTransition when the row is not in the expected state, so
// concurrent writers cannot double-drive a transition.
func (s *ActionStore) TransitionStatus(ctx context.Context, id int64, from, to models.ProposalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("transition proposal %d %s->%s: %w", id, from, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetProposal(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("proposal %d not in status %s: %w", id, from, ErrInvalidTransition)
	}
	return nil
}

// Approve records approval. Approving a workflow member does not cascade;
// use ApproveWorkflow for that.
func (s *ActionStore) Approve(ctx context.Context, id int64, approvedBy string) error {
	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE action_proposals SET approved_at = ?, approved_by = ?, updated_at = ? WHERE id = ?`,
		now, approvedBy, now, id)
	if err != nil {
		return fmt.Errorf("approve proposal %d: %w", id, err)
	}
	return nil
}

// Reject records a rejection with a reason and cancels the proposal.
func (s *ActionStore) Reject(ctx context.Context, id int64, rejectedBy, reason string) error {
	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE action_proposals
		SET rejected_at = ?, rejected_by = ?, rejection_reason = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		now, rejectedBy, reason, models.ProposalStatusCancelled, now, id)
	if err != nil {
		return fmt.Errorf("reject proposal %d: %w", id, err)
	}
	return nil
}

// Cancel transitions a non-terminal proposal to cancelled.
func (s *ActionStore) Cancel(ctx context.Context, id int64, reason string) error {
	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE action_proposals
		SET status = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ?`,
		models.ProposalStatusCancelled, reason, now, id)
	if err != nil {
		return fmt.Errorf("cancel proposal %d: %w", id, err)
	}
	return nil
}

// CancelNonTerminal cancels every proposal not in a terminal state and
// returns their ids. Used by the kill switch and observe-mode sweep.
func (s *ActionStore) CancelNonTerminal(ctx context.Context, reason string) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM action_proposals WHERE status IN (?, ?, ?)`,
		models.ProposalStatusProposed, models.ProposalStatusValidated, models.ProposalStatusExecuting)
	if err != nil {
		return nil, fmt.Errorf("query non-terminal proposals: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE action_proposals
		SET status = ?, rejection_reason = ?, updated_at = ?
		WHERE status IN (?, ?, ?)`,
		models.ProposalStatusCancelled, reason, now,
		models.ProposalStatusProposed, models.ProposalStatusValidated, models.ProposalStatusExecuting)
	if err != nil {
		return nil, fmt.Errorf("cancel non-terminal proposals: %w", err)
	}
	return ids, nil
}

// SetRetryState stores the retry bookkeeping after a failed execution.
func (s *ActionStore) SetRetryState(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE action_proposals
		SET retry_count = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?`,
		retryCount, lastError, nextRetryAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set retry state on proposal %d: %w", id, err)
	}
	return nil
}

// ResetForRetry moves a failed proposal back to validated and clears its
// retry deadline so it can be re-executed. The retry counter is preserved.
func (s *ActionStore) ResetForRetry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_proposals
		SET status = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.ProposalStatusValidated, time.Now().UTC(), id, models.ProposalStatusFailed)
	if err != nil {
		return fmt.Errorf("reset proposal %d for retry: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proposal %d not failed: %w", id, ErrInvalidTransition)
	}
	return nil
}

// DueScheduled returns validated proposals whose scheduled_at has passed.
// A nil scheduled_at means immediate, so unscheduled proposals left
// validated (for example while awaiting approval) are always due.
func (s *ActionStore) DueScheduled(ctx context.Context, now time.Time) ([]models.ActionProposal, error) {
	var proposals []models.ActionProposal
	err := s.db.SelectContext(ctx, &proposals, `
		SELECT * FROM action_proposals
		WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY scheduled_at ASC, id ASC`,
		models.ProposalStatusValidated, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due scheduled proposals: %w", err)
	}
	return proposals, nil
}

// RetryEligible returns failed proposals whose retry deadline has passed
// and whose retry budget is not exhausted.
func (s *ActionStore) RetryEligible(ctx context.Context, now time.Time) ([]models.ActionProposal, error) {
	var proposals []models.ActionProposal
	err := s.db.SelectContext(ctx, &proposals, `
		SELECT * FROM action_proposals
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		  AND retry_count <= max_retries
		ORDER BY next_retry_at ASC, id ASC`,
		models.ProposalStatusFailed, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query retry-eligible proposals: %w", err)
	}
	return proposals, nil
}

// CreateWorkflow inserts a workflow row.
func (s *ActionStore) CreateWorkflow(ctx context.Context, w *models.WorkflowProposal) (*models.WorkflowProposal, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (name, description, ticket_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.Name, w.Description, w.TicketID, models.WorkflowStatusPending, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert workflow %q: %w", w.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetWorkflow(ctx, id)
}

// GetWorkflow returns the workflow by id.
func (s *ActionStore) GetWorkflow(ctx context.Context, id int64) (*models.WorkflowProposal, error) {
	var w models.WorkflowProposal
	err := s.db.GetContext(ctx, &w, `SELECT * FROM workflows WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %d: %w", id, err)
	}
	return &w, nil
}

// ListWorkflowProposals returns the workflow's member proposals in
// execution order.
func (s *ActionStore) ListWorkflowProposals(ctx context.Context, workflowID int64) ([]models.ActionProposal, error) {
	var proposals []models.ActionProposal
	err := s.db.SelectContext(ctx, &proposals, `
		SELECT * FROM action_proposals WHERE workflow_id = ?
		ORDER BY execution_order ASC, id ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow %d proposals: %w", workflowID, err)
	}
	return proposals, nil
}

// ApproveWorkflow approves the workflow's members in one sweep. Approval
// of the workflow approves all member proposals.
func (s *ActionStore) ApproveWorkflow(ctx context.Context, workflowID int64, approvedBy string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE action_proposals SET approved_at = ?, approved_by = ?, updated_at = ?
		WHERE workflow_id = ? AND status NOT IN (?, ?, ?)`,
		now, approvedBy, now, workflowID,
		models.ProposalStatusCompleted, models.ProposalStatusFailed, models.ProposalStatusCancelled)
	if err != nil {
		return fmt.Errorf("approve workflow %d: %w", workflowID, err)
	}
	return nil
}

// CreateRecord inserts an execution record for one attempt.
func (s *ActionStore) CreateRecord(ctx context.Context, proposalID int64) (*models.ActionRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO action_records (proposal_id, started_at) VALUES (?, ?)`,
		proposalID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert record for proposal %d: %w", proposalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetRecord(ctx, id)
}

// GetRecord returns the record by id.
func (s *ActionStore) GetRecord(ctx context.Context, id int64) (*models.ActionRecord, error) {
	var r models.ActionRecord
	err := s.db.GetContext(ctx, &r, `SELECT * FROM action_records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return &r, nil
}

// CompleteRecord fills the outcome of one attempt.
func (s *ActionStore) CompleteRecord(ctx context.Context, id int64, success bool, errorMessage string, resultData models.JSONMap) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE action_records
		SET completed_at = ?, success = ?, error_message = ?, result_data = ?
		WHERE id = ?`,
		time.Now().UTC(), success, errMsg, resultData, id)
	if err != nil {
		return fmt.Errorf("complete record %d: %w", id, err)
	}
	return nil
}

// ListRecords returns all attempts for a proposal, oldest first.
func (s *ActionStore) ListRecords(ctx context.Context, proposalID int64) ([]models.ActionRecord, error) {
	var records []models.ActionRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM action_records WHERE proposal_id = ? ORDER BY started_at ASC, id ASC`,
		proposalID)
	if err != nil {
		return nil, fmt.Errorf("list records for proposal %d: %w", proposalID, err)
	}
	return records, nil
}
