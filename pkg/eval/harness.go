// Package eval runs chaos campaigns against a subject and scores how the
// operator handled them. The harness only observes the ticket and audit
// stores; the monitor and agent daemons do the actual detection and
// remediation.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/subject"
)

// HarnessConfig bounds the waiting phases of a trial.
type HarnessConfig struct {
	// HealthyTimeout bounds the post-reset wait for subject health.
	HealthyTimeout time.Duration

	// DetectTimeout bounds the wait for a ticket after chaos injection.
	DetectTimeout time.Duration

	// ResolveTimeout bounds the wait for that ticket to resolve.
	ResolveTimeout time.Duration

	// BaselineWait is how long a baseline trial lets the subject self-heal.
	BaselineWait time.Duration

	// PollInterval is the store polling cadence during waits.
	PollInterval time.Duration
}

// DefaultHarnessConfig returns the default trial timing.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		HealthyTimeout: 2 * time.Minute,
		DetectTimeout:  3 * time.Minute,
		ResolveTimeout: 10 * time.Minute,
		BaselineWait:   5 * time.Minute,
		PollInterval:   2 * time.Second,
	}
}

// Harness runs individual trials.
type Harness struct {
	cfg     HarnessConfig
	tickets *store.TicketStore
	actions *store.ActionStore
	audit   *store.AuditStore
	evals   *store.EvalStore
	now     func() time.Time
}

// NewHarness creates a harness over the shared stores.
func NewHarness(cfg HarnessConfig, tickets *store.TicketStore, actions *store.ActionStore,
	audit *store.AuditStore, evals *store.EvalStore) *Harness {
	return &Harness{
		cfg:     cfg,
		tickets: tickets,
		actions: actions,
		audit:   audit,
		evals:   evals,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the harness clock (used in tests).
func (h *Harness) SetClock(now func() time.Time) { h.now = now }

// RunTrial executes one chaos trial and persists its row. Chaos cleanup
// is best-effort; a cleanup failure is logged but never fails the trial.
func (h *Harness) RunTrial(ctx context.Context, campaign *models.Campaign, subj subject.Subject, chaosParams map[string]any) (*models.Trial, error) {
	startedAt := h.now()

	if err := subj.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset subject: %w", err)
	}
	if err := subj.WaitHealthy(ctx, h.cfg.HealthyTimeout); err != nil {
		return nil, fmt.Errorf("subject never became healthy: %w", err)
	}
	initialState, err := subj.CaptureState(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture initial state: %w", err)
	}

	chaosInjectedAt := h.now()
	chaosMeta, err := subj.InjectChaos(ctx, campaign.ChaosType, chaosParams)
	if err != nil {
		return nil, fmt.Errorf("inject chaos %s: %w", campaign.ChaosType, err)
	}
	slog.Info("Chaos injected", "chaos_type", campaign.ChaosType, "campaign_id", campaign.ID)

	trial := &models.Trial{
		CampaignID:      campaign.ID,
		StartedAt:       startedAt,
		ChaosInjectedAt: chaosInjectedAt,
		InitialState:    models.JSONMap(initialState),
		ChaosMetadata:   models.JSONMap(chaosMeta),
	}

	if campaign.Baseline {
		h.sleep(ctx, h.cfg.BaselineWait)
	} else {
		h.watchOperator(ctx, trial, chaosInjectedAt)
	}

	finalState, err := subj.CaptureState(ctx)
	if err != nil {
		slog.Warn("Final state capture failed", "error", err)
	} else {
		trial.FinalState = models.JSONMap(finalState)
	}
	if err := subj.CleanupChaos(ctx, chaosMeta); err != nil {
		slog.Warn("Chaos cleanup failed", "chaos_type", campaign.ChaosType, "error", err)
	}

	trial.EndedAt = h.now()

	if !campaign.Baseline {
		commands, err := h.extractCommands(ctx, chaosInjectedAt, trial.EndedAt)
		if err != nil {
			slog.Warn("Command extraction failed", "error", err)
		} else if len(commands) > 0 {
			data, err := json.Marshal(commands)
			if err != nil {
				return nil, fmt.Errorf("encode trial commands: %w", err)
			}
			s := string(data)
			trial.CommandsJSON = &s
		}
	}

	return h.evals.CreateTrial(ctx, trial)
}

// watchOperator polls the ticket store for chaos pickup and resolution,
// stamping ticket_created_at and resolved_at on the trial. Timeouts leave
// the corresponding timestamp nil; scoring turns that into a timeout
// outcome.
func (h *Harness) watchOperator(ctx context.Context, trial *models.Trial, since time.Time) {
	detectDeadline := h.now().Add(h.cfg.DetectTimeout)
	var ticket *models.Ticket
	for h.now().Before(detectDeadline) {
		t, err := h.tickets.FirstCreatedAfter(ctx, since)
		if err == nil {
			ticket = t
			created := t.CreatedAt
			trial.TicketCreatedAt = &created
			break
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Ticket poll failed", "error", err)
		}
		if !h.sleep(ctx, h.cfg.PollInterval) {
			return
		}
	}
	if ticket == nil {
		slog.Warn("Chaos was never ticketed", "campaign_id", trial.CampaignID)
		return
	}

	resolveDeadline := h.now().Add(h.cfg.ResolveTimeout)
	for h.now().Before(resolveDeadline) {
		t, err := h.tickets.Get(ctx, ticket.ID)
		if err != nil {
			slog.Warn("Ticket poll failed", "ticket_id", ticket.ID, "error", err)
		} else if t.IsResolved() {
			resolved := h.now()
			if t.ResolvedAt != nil {
				resolved = *t.ResolvedAt
			}
			trial.ResolvedAt = &resolved
			return
		}
		if !h.sleep(ctx, h.cfg.PollInterval) {
			return
		}
	}
	slog.Warn("Ticket never resolved within trial window", "ticket_id", ticket.ID)
}

// extractCommands reconstructs what the agent executed during the trial
// window from executing audit events.
func (h *Harness) extractCommands(ctx context.Context, from, to time.Time) ([]models.TrialCommand, error) {
	events, err := h.audit.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var commands []models.TrialCommand
	for _, e := range events {
		if e.EventType != models.AuditEventExecuting {
			continue
		}
		cmd := models.TrialCommand{At: e.Timestamp}
		if name, ok := e.EventData["action_name"].(string); ok {
			cmd.ActionName = name
		}
		if e.ProposalID != nil {
			if p, err := h.actions.GetProposal(ctx, *e.ProposalID); err == nil {
				cmd.Parameters = map[string]any(p.Parameters)
			}
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// sleep waits for d or context cancellation; reports whether the wait
// completed.
func (h *Harness) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
