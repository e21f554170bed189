package models

import "time"

// ProposalStatus is the action proposal lifecycle state.
type ProposalStatus string

// Proposal lifecycle states. Transitions are monotonic except
// failed->validated under retry reset. Terminal states forbid further
// transitions; cancellation is final.
const (
	ProposalStatusProposed  ProposalStatus = "proposed"
	ProposalStatusValidated ProposalStatus = "validated"
	ProposalStatusExecuting ProposalStatus = "executing"
	ProposalStatusCompleted ProposalStatus = "completed"
	ProposalStatusFailed    ProposalStatus = "failed"
	ProposalStatusCancelled ProposalStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
// failed is terminal only until the retry queue resets it to validated.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case ProposalStatusCompleted, ProposalStatusFailed, ProposalStatusCancelled:
		return true
	}
	return false
}

// ActionType distinguishes how an action is dispatched.
type ActionType string

// Action dispatch kinds.
const (
	ActionTypeSubject  ActionType = "subject"
	ActionTypeTool     ActionType = "tool"
	ActionTypeWorkflow ActionType = "workflow"
)

// RequesterType identifies who asked for an action (OAuth-delegation style
// dual identity: a requester may delegate to an agent).
type RequesterType string

// Requester kinds.
const (
	RequesterTypeUser   RequesterType = "user"
	RequesterTypeSystem RequesterType = "system"
	RequesterTypeAgent  RequesterType = "agent"
)

// RiskLevel classifies how dangerous an action or session is.
type RiskLevel string

// Risk levels, ordered from least to most dangerous.
const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// ActionProposal is a recorded request to mutate the subject.
type ActionProposal struct {
	ID       int64  `db:"id"`
	TicketID *int64 `db:"ticket_id"`

	ActionName string     `db:"action_name"`
	ActionType ActionType `db:"action_type"`
	Parameters JSONMap    `db:"parameters"`
	Reason     string     `db:"reason"`

	Status ProposalStatus `db:"status"`

	RequesterID   string        `db:"requester_id"`
	RequesterType RequesterType `db:"requester_type"`
	AgentID       *string       `db:"agent_id"`

	ApprovedAt      *time.Time `db:"approved_at"`
	ApprovedBy      *string    `db:"approved_by"`
	RejectedAt      *time.Time `db:"rejected_at"`
	RejectedBy      *string    `db:"rejected_by"`
	RejectionReason *string    `db:"rejection_reason"`

	WorkflowID           *int64 `db:"workflow_id"`
	ExecutionOrder       int    `db:"execution_order"`
	DependsOnProposalID  *int64 `db:"depends_on_proposal_id"`

	ScheduledAt *time.Time `db:"scheduled_at"`

	RetryCount  int        `db:"retry_count"`
	MaxRetries  int        `db:"max_retries"`
	NextRetryAt *time.Time `db:"next_retry_at"`
	LastError   *string    `db:"last_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsApproved reports whether the proposal carries an approval.
func (p *ActionProposal) IsApproved() bool {
	return p.ApprovedAt != nil
}

// WorkflowStatus is the workflow lifecycle state.
type WorkflowStatus string

// Workflow lifecycle states.
const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
)

// WorkflowProposal owns an ordered set of action proposals. Approving the
// workflow approves all members.
type WorkflowProposal struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	TicketID    *int64         `db:"ticket_id"`
	Status      WorkflowStatus `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
}

// ActionRecord is the outcome of one execution attempt of a proposal.
// Retries produce one record per attempt.
type ActionRecord struct {
	ID           int64      `db:"id"`
	ProposalID   int64      `db:"proposal_id"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	Success      *bool      `db:"success"`
	ErrorMessage *string    `db:"error_message"`
	ResultData   JSONMap    `db:"result_data"`
}

// ActionRecommendation is a single remediation step recommended by a
// diagnosis, ready to be proposed through the dispatcher.
type ActionRecommendation struct {
	ActionName      string         `json:"action_name"`
	Parameters      map[string]any `json:"parameters"`
	Reason          string         `json:"reason"`
	ExpectedOutcome string         `json:"expected_outcome"`
	Urgency         string         `json:"urgency"`
}
