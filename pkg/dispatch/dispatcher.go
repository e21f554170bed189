// Package dispatch drives the action proposal lifecycle: propose,
// validate, execute, retry. Every transition lands in the audit log and
// every execution passes the safety, approval, authorization, and risk
// gates in that order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-ops/vigil/pkg/authz"
	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/registry"
	"github.com/vigil-ops/vigil/pkg/risk"
	"github.com/vigil-ops/vigil/pkg/safety"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/tools"
)

// ErrApprovalRequired signals that execution is blocked pending human
// approval. The proposal stays validated.
var ErrApprovalRequired = errors.New("proposal requires approval")

// ErrRiskRefused signals that the session risk score reached critical and
// execution is refused outright.
var ErrRiskRefused = errors.New("session risk critical, execution refused")

// ErrNotScheduledYet signals that a proposal's scheduled time has not
// arrived.
var ErrNotScheduledYet = errors.New("proposal scheduled for the future")

// Identity is who is asking for an action. AgentID is set when a
// requester delegates to an acting agent.
type Identity struct {
	RequesterID   string
	RequesterType models.RequesterType
	AgentID       *string
}

// ProposalRequest carries the intent for a new proposal.
type ProposalRequest struct {
	TicketID    *int64
	ActionName  string
	Parameters  map[string]any
	Reason      string
	Identity    Identity
	ScheduledAt *time.Time
	MaxRetries  int
}

// WorkflowRequest carries the intent for an ordered multi-step workflow.
type WorkflowRequest struct {
	Name        string
	Description string
	TicketID    *int64
	Identity    Identity
	Steps       []WorkflowStep
}

// WorkflowStep is one member action of a workflow.
type WorkflowStep struct {
	ActionName string
	Parameters map[string]any
	Reason     string
}

// Config tunes dispatcher policy.
type Config struct {
	// ApprovalMode forces human approval on every proposal regardless of
	// the action's own flag.
	ApprovalMode bool

	// RefuseCritical refuses execution outright when session risk is
	// critical. When false, critical is treated like high (approval
	// required).
	RefuseCritical bool

	Backoff Backoff
}

// DefaultConfig returns the default dispatch policy.
func DefaultConfig() Config {
	return Config{
		ApprovalMode:   false,
		RefuseCritical: true,
		Backoff:        DefaultBackoff(),
	}
}

// Dispatcher owns the proposal lifecycle.
type Dispatcher struct {
	cfg        Config
	actions    *store.ActionStore
	audit      *store.AuditStore
	registry   *registry.Registry
	safety     *safety.Controller
	authorizer *authz.Authorizer
	risk       *risk.Tracker
	executor   tools.Executor
	now        func() time.Time
}

// New creates a dispatcher.
func New(cfg Config, actions *store.ActionStore, audit *store.AuditStore,
	reg *registry.Registry, sc *safety.Controller, az *authz.Authorizer,
	rt *risk.Tracker, executor tools.Executor) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		actions:    actions,
		audit:      audit,
		registry:   reg,
		safety:     sc,
		authorizer: az,
		risk:       rt,
		executor:   executor,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the dispatcher clock (used in tests).
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Propose creates a proposal: the action must exist, its parameters must
// validate, and the operator must be in execute mode. The normalized
// parameters are what gets persisted.
func (d *Dispatcher) Propose(ctx context.Context, req ProposalRequest) (*models.ActionProposal, error) {
	if err := d.safety.CheckCanExecute(); err != nil {
		return nil, err
	}
	def, err := d.registry.Get(req.ActionName)
	if err != nil {
		return nil, err
	}
	normalized, err := registry.ValidateParameters(def, req.Parameters)
	if err != nil {
		return nil, err
	}

	p, err := d.actions.CreateProposal(ctx, &models.ActionProposal{
		TicketID:      req.TicketID,
		ActionName:    req.ActionName,
		ActionType:    def.ActionType,
		Parameters:    models.JSONMap(normalized),
		Reason:        req.Reason,
		RequesterID:   req.Identity.RequesterID,
		RequesterType: req.Identity.RequesterType,
		AgentID:       req.Identity.AgentID,
		ScheduledAt:   req.ScheduledAt,
		MaxRetries:    req.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	if err := d.audit.Append(ctx, &p.ID, models.AuditEventProposed, map[string]any{
		"action_name": p.ActionName,
		"parameters":  map[string]any(p.Parameters),
		"reason":      p.Reason,
	}, req.Identity.RequesterID); err != nil {
		return nil, err
	}

	slog.Info("Action proposed",
		"proposal_id", p.ID, "action", p.ActionName, "requester", req.Identity.RequesterID)
	return p, nil
}

// ProposeWorkflow creates a workflow and its member proposals in
// execution order, each depending on its predecessor.
func (d *Dispatcher) ProposeWorkflow(ctx context.Context, req WorkflowRequest) (*models.WorkflowProposal, []models.ActionProposal, error) {
	if err := d.safety.CheckCanExecute(); err != nil {
		return nil, nil, err
	}
	if len(req.Steps) == 0 {
		return nil, nil, fmt.Errorf("workflow %q has no steps", req.Name)
	}

	// Validate every step before creating anything so a bad step cannot
	// leave a half-built workflow.
	normalized := make([]map[string]any, len(req.Steps))
	types := make([]models.ActionType, len(req.Steps))
	for i, step := range req.Steps {
		def, err := d.registry.Get(step.ActionName)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow step %d: %w", i, err)
		}
		params, err := registry.ValidateParameters(def, step.Parameters)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow step %d: %w", i, err)
		}
		normalized[i] = params
		types[i] = def.ActionType
	}

	w, err := d.actions.CreateWorkflow(ctx, &models.WorkflowProposal{
		Name:        req.Name,
		Description: req.Description,
		TicketID:    req.TicketID,
	})
	if err != nil {
		return nil, nil, err
	}

	var members []models.ActionProposal
	var previousID *int64
	for i, step := range req.Steps {
		p, err := d.actions.CreateProposal(ctx, &models.ActionProposal{
			TicketID:            req.TicketID,
			ActionName:          step.ActionName,
			ActionType:          types[i],
			Parameters:          models.JSONMap(normalized[i]),
			Reason:              step.Reason,
			RequesterID:         req.Identity.RequesterID,
			RequesterType:       req.Identity.RequesterType,
			AgentID:             req.Identity.AgentID,
			WorkflowID:          &w.ID,
			ExecutionOrder:      i,
			DependsOnProposalID: previousID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("workflow %q step %d: %w", req.Name, i, err)
		}
		previousID = &p.ID
		members = append(members, *p)
	}

	if err := d.audit.Append(ctx, nil, models.AuditEventWorkflowCreated, map[string]any{
		"workflow_id": w.ID,
		"name":        w.Name,
		"steps":       len(members),
	}, req.Identity.RequesterID); err != nil {
		return nil, nil, err
	}

	slog.Info("Workflow proposed", "workflow_id", w.ID, "name", w.Name, "steps", len(members))
	return w, members, nil
}

// ValidateProposal moves a proposed proposal to validated, re-checking
// parameters against the current definition. Blocked in observe mode like
// the rest of the lifecycle.
func (d *Dispatcher) ValidateProposal(ctx context.Context, id int64) (*models.ActionProposal, error) {
	if err := d.safety.CheckCanExecute(); err != nil {
		return nil, err
	}
	p, err := d.actions.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.revalidate(p); err != nil {
		return nil, err
	}
	if err := d.actions.TransitionStatus(ctx, id, models.ProposalStatusProposed, models.ProposalStatusValidated); err != nil {
		return nil, err
	}
	if err := d.audit.Append(ctx, &id, models.AuditEventValidated, map[string]any{
		"action_name": p.ActionName,
	}, p.RequesterID); err != nil {
		return nil, err
	}
	return d.actions.GetProposal(ctx, id)
}

// revalidate checks the proposal's stored parameters against the current
// definition. Validation runs both at creation and immediately before
// execution; the definition may have changed in between.
func (d *Dispatcher) revalidate(p *models.ActionProposal) error {
	def, err := d.registry.Get(p.ActionName)
	if err != nil {
		return err
	}
	_, err = registry.ValidateParameters(def, p.Parameters)
	return err
}

// ExecuteProposal runs a validated proposal through the gates and, if all
// pass, executes it and records the outcome. Failed executions are handed
// to the retry scheduler.
func (d *Dispatcher) ExecuteProposal(ctx context.Context, id int64) (*models.ActionRecord, error) {
	if err := d.safety.CheckCanExecute(); err != nil {
		return nil, err
	}
	p, err := d.actions.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProposalStatusValidated {
		return nil, fmt.Errorf("proposal %d is %s: %w", id, p.Status, store.ErrInvalidTransition)
	}
	if p.ScheduledAt != nil && p.ScheduledAt.After(d.now()) {
		return nil, ErrNotScheduledYet
	}
	if p.DependsOnProposalID != nil {
		dep, err := d.actions.GetProposal(ctx, *p.DependsOnProposalID)
		if err != nil {
			return nil, fmt.Errorf("dependency of proposal %d: %w", id, err)
		}
		if dep.Status != models.ProposalStatusCompleted {
			return nil, fmt.Errorf("proposal %d waits on proposal %d (%s)", id, dep.ID, dep.Status)
		}
	}

	def, err := d.registry.Get(p.ActionName)
	if err != nil {
		return nil, err
	}
	if _, err := registry.ValidateParameters(def, p.Parameters); err != nil {
		return nil, err
	}

	if err := d.checkApproval(p, def); err != nil {
		return nil, err
	}
	if authErr := d.authorizer.Authorize(ctx, p); authErr != nil {
		if err := d.audit.Append(ctx, &id, models.AuditEventCancelled, map[string]any{
			"action_name": p.ActionName,
			"reason":      authErr.Error(),
		}, p.RequesterID); err != nil {
			return nil, err
		}
		slog.Warn("Authorization denied",
			"proposal_id", id, "action", p.ActionName, "error", authErr)
		return nil, authErr
	}

	if err := d.actions.TransitionStatus(ctx, id, models.ProposalStatusValidated, models.ProposalStatusExecuting); err != nil {
		return nil, err
	}
	record, err := d.actions.CreateRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.audit.Append(ctx, &id, models.AuditEventExecuting, map[string]any{
		"action_name": p.ActionName,
		"record_id":   record.ID,
		"attempt":     p.RetryCount + 1,
	}, p.RequesterID); err != nil {
		return nil, err
	}

	d.risk.Record(p.ActionName, d.now())
	result, execErr := d.run(ctx, p)

	if execErr != nil {
		if err := d.actions.CompleteRecord(ctx, record.ID, false, execErr.Error(), nil); err != nil {
			return nil, err
		}
		if err := d.actions.TransitionStatus(ctx, id, models.ProposalStatusExecuting, models.ProposalStatusFailed); err != nil {
			return nil, err
		}
		if err := d.audit.Append(ctx, &id, models.AuditEventFailed, map[string]any{
			"action_name": p.ActionName,
			"error":       execErr.Error(),
			"attempt":     p.RetryCount + 1,
		}, p.RequesterID); err != nil {
			return nil, err
		}
		if err := d.ScheduleNextRetry(ctx, id, execErr.Error()); err != nil {
			return nil, err
		}
		slog.Warn("Action execution failed",
			"proposal_id", id, "action", p.ActionName, "error", execErr)
		return d.actions.GetRecord(ctx, record.ID)
	}

	if err := d.actions.CompleteRecord(ctx, record.ID, true, "", models.JSONMap(result)); err != nil {
		return nil, err
	}
	if err := d.actions.TransitionStatus(ctx, id, models.ProposalStatusExecuting, models.ProposalStatusCompleted); err != nil {
		return nil, err
	}
	if err := d.audit.Append(ctx, &id, models.AuditEventCompleted, map[string]any{
		"action_name": p.ActionName,
		"result":      result,
	}, p.RequesterID); err != nil {
		return nil, err
	}
	slog.Info("Action completed", "proposal_id", id, "action", p.ActionName)
	return d.actions.GetRecord(ctx, record.ID)
}

// checkApproval enforces the approval gate: approval mode, the action's
// own flag, or an elevated session risk level all demand a recorded
// approval; critical risk refuses outright when configured to.
func (d *Dispatcher) checkApproval(p *models.ActionProposal, def registry.ActionDefinition) error {
	_, level := d.risk.Score(d.now())
	if level == models.RiskLevelCritical && d.cfg.RefuseCritical {
		return ErrRiskRefused
	}
	required := d.cfg.ApprovalMode || def.RequiresApproval ||
		level == models.RiskLevelHigh || level == models.RiskLevelCritical
	if required && !p.IsApproved() {
		return ErrApprovalRequired
	}
	return nil
}

// run executes through the subject callback when one is registered, the
// tool executor otherwise.
func (d *Dispatcher) run(ctx context.Context, p *models.ActionProposal) (map[string]any, error) {
	params := map[string]any(p.Parameters)
	if fn := d.registry.Callback(p.ActionName); fn != nil {
		return fn(ctx, params)
	}
	return d.executor.Execute(ctx, p.ActionName, params)
}

// ScheduleNextRetry sets the retry deadline for a failed proposal, or
// marks the retry budget exhausted. Delays grow exponentially with the
// attempt number.
func (d *Dispatcher) ScheduleNextRetry(ctx context.Context, id int64, lastError string) error {
	p, err := d.actions.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.RetryCount >= p.MaxRetries {
		if err := d.actions.SetRetryState(ctx, id, p.RetryCount, lastError, nil); err != nil {
			return err
		}
		if err := d.audit.Append(ctx, &id, models.AuditEventRetryExhausted, map[string]any{
			"action_name": p.ActionName,
			"retry_count": p.RetryCount,
			"last_error":  lastError,
		}, "system"); err != nil {
			return err
		}
		slog.Warn("Retry budget exhausted", "proposal_id", id, "action", p.ActionName)
		return nil
	}

	next := d.now().Add(d.cfg.Backoff.Delay(p.RetryCount + 1))
	if err := d.actions.SetRetryState(ctx, id, p.RetryCount+1, lastError, &next); err != nil {
		return err
	}
	if err := d.audit.Append(ctx, &id, models.AuditEventRetryScheduled, map[string]any{
		"action_name":   p.ActionName,
		"retry_count":   p.RetryCount + 1,
		"next_retry_at": next.Format(time.RFC3339Nano),
	}, "system"); err != nil {
		return err
	}
	slog.Info("Retry scheduled",
		"proposal_id", id, "action", p.ActionName, "retry", p.RetryCount+1, "next_retry_at", next)
	return nil
}

// Approve records a human approval on a proposal.
func (d *Dispatcher) Approve(ctx context.Context, id int64, approvedBy string) error {
	return d.actions.Approve(ctx, id, approvedBy)
}

// ApproveWorkflow records approval on every live member of a workflow.
func (d *Dispatcher) ApproveWorkflow(ctx context.Context, workflowID int64, approvedBy string) error {
	return d.actions.ApproveWorkflow(ctx, workflowID, approvedBy)
}

// Reject rejects and cancels a proposal with a reason.
func (d *Dispatcher) Reject(ctx context.Context, id int64, rejectedBy, reason string) error {
	if err := d.actions.Reject(ctx, id, rejectedBy, reason); err != nil {
		return err
	}
	return d.audit.Append(ctx, &id, models.AuditEventCancelled, map[string]any{
		"rejected_by": rejectedBy,
		"reason":      reason,
	}, rejectedBy)
}

// Cancel cancels a non-terminal proposal.
func (d *Dispatcher) Cancel(ctx context.Context, id int64, actor, reason string) error {
	if err := d.actions.Cancel(ctx, id, reason); err != nil {
		return err
	}
	return d.audit.Append(ctx, &id, models.AuditEventCancelled, map[string]any{
		"reason": reason,
	}, actor)
}
