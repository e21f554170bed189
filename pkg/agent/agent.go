// Package agent runs the remediation loop: pick up open tickets, produce
// a diagnosis through the model, and drive recommended actions through
// the dispatcher. It also drains the scheduled and retry queues each tick.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vigil-ops/vigil/pkg/dispatch"
	"github.com/vigil-ops/vigil/pkg/llm"
	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/registry"
	"github.com/vigil-ops/vigil/pkg/safety"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/subject"
)

// Config tunes the agent loop.
type Config struct {
	Interval       time.Duration
	JitterFraction float64

	// VerificationDelay is how long the agent waits after executing
	// remediation before re-observing to check whether it worked.
	VerificationDelay time.Duration

	// MaxTicketsPerTick bounds diagnosis work per tick so one noisy batch
	// cannot starve the scheduled and retry queues.
	MaxTicketsPerTick int
}

// DefaultConfig returns the default agent timing.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		JitterFraction:    0.1,
		VerificationDelay: 20 * time.Second,
		MaxTicketsPerTick: 5,
	}
}

// Agent owns the diagnosis and remediation loop.
type Agent struct {
	cfg        Config
	tickets    *store.TicketStore
	actions    *store.ActionStore
	gatherer   *Gatherer
	model      llm.Client
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	observer   subject.Observer
	checker    subject.Checker
	identity   dispatch.Identity
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// in-flight work, cancellable by the kill switch
	taskMu  sync.Mutex
	nextID  int
	cancels map[int]context.CancelFunc
}

// New creates an agent.
func New(cfg Config, tickets *store.TicketStore, actions *store.ActionStore,
	gatherer *Gatherer, model llm.Client, dispatcher *dispatch.Dispatcher,
	reg *registry.Registry, observer subject.Observer, checker subject.Checker) *Agent {
	agentID := "vigil-agent"
	return &Agent{
		cfg:        cfg,
		tickets:    tickets,
		actions:    actions,
		gatherer:   gatherer,
		model:      model,
		dispatcher: dispatcher,
		registry:   reg,
		observer:   observer,
		checker:    checker,
		identity: dispatch.Identity{
			RequesterID:   "operator",
			RequesterType: models.RequesterTypeSystem,
			AgentID:       &agentID,
		},
		now:     func() time.Time { return time.Now().UTC() },
		stopCh:  make(chan struct{}),
		cancels: make(map[int]context.CancelFunc),
	}
}

// SetClock overrides the agent clock (used in tests).
func (a *Agent) SetClock(now func() time.Time) { a.now = now }

// Start launches the agent loop.
func (a *Agent) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.run(ctx)
	slog.Info("Agent started", "interval", a.cfg.Interval)
}

// Stop signals the loop to exit and waits for the in-flight tick.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
	slog.Info("Agent stopped")
}

// CancelAll aborts all in-flight agent work. Implements the kill switch
// task canceler.
func (a *Agent) CancelAll() int {
	a.taskMu.Lock()
	defer a.taskMu.Unlock()
	n := len(a.cancels)
	for id, cancel := range a.cancels {
		cancel()
		delete(a.cancels, id)
	}
	return n
}

// track derives a cancellable context registered with the kill switch.
func (a *Agent) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	a.taskMu.Lock()
	id := a.nextID
	a.nextID++
	a.cancels[id] = cancel
	a.taskMu.Unlock()
	return ctx, func() {
		a.taskMu.Lock()
		delete(a.cancels, id)
		a.taskMu.Unlock()
		cancel()
	}
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		if err := a.Tick(ctx); err != nil {
			slog.Error("Agent tick failed", "error", err)
		}
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(a.sleepInterval()):
		}
	}
}

func (a *Agent) sleepInterval() time.Duration {
	if a.cfg.JitterFraction <= 0 {
		return a.cfg.Interval
	}
	j := a.cfg.JitterFraction
	return time.Duration(float64(a.cfg.Interval) * (1 - j + 2*j*rand.Float64()))
}

// Tick performs one agent pass:
//  1. Diagnose open tickets and act on recommendations.
//  2. Execute validated proposals that are due, including those left
//     validated by an approval gate and since approved.
//  3. Re-execute failed proposals whose retry deadline arrived.
//
// The queues drain after all ticket processing so proposals created for a
// ticket this pass keep their ordering against that incident.
func (a *Agent) Tick(ctx context.Context) error {
	ctx, done := a.track(ctx)
	defer done()

	if err := a.diagnoseOpen(ctx); err != nil {
		return err
	}
	if err := a.drainScheduled(ctx); err != nil {
		return err
	}
	return a.drainRetries(ctx)
}

func (a *Agent) drainScheduled(ctx context.Context) error {
	due, err := a.actions.DueScheduled(ctx, a.now())
	if err != nil {
		return err
	}
	for _, p := range due {
		if _, err := a.dispatcher.ExecuteProposal(ctx, p.ID); err != nil {
			if errors.Is(err, safety.ErrObserveOnly) {
				return nil
			}
			if errors.Is(err, dispatch.ErrApprovalRequired) {
				slog.Info("Scheduled proposal awaiting approval", "proposal_id", p.ID)
				continue
			}
			slog.Error("Scheduled proposal execution failed", "proposal_id", p.ID, "error", err)
		}
	}
	return nil
}

func (a *Agent) drainRetries(ctx context.Context) error {
	eligible, err := a.actions.RetryEligible(ctx, a.now())
	if err != nil {
		return err
	}
	for _, p := range eligible {
		if err := a.actions.ResetForRetry(ctx, p.ID); err != nil {
			slog.Error("Retry reset failed", "proposal_id", p.ID, "error", err)
			continue
		}
		if _, err := a.dispatcher.ExecuteProposal(ctx, p.ID); err != nil {
			if errors.Is(err, safety.ErrObserveOnly) {
				return nil
			}
			if errors.Is(err, dispatch.ErrApprovalRequired) {
				slog.Info("Retry awaiting approval", "proposal_id", p.ID)
				continue
			}
			slog.Error("Retry execution failed", "proposal_id", p.ID, "error", err)
		}
	}
	return nil
}

func (a *Agent) diagnoseOpen(ctx context.Context) error {
	open, err := a.tickets.List(ctx, models.TicketStatusOpen)
	if err != nil {
		return err
	}
	diagnosed := 0
	for i := range open {
		if diagnosed >= a.cfg.MaxTicketsPerTick {
			break
		}
		if err := a.DiagnoseOne(ctx, open[i].ID); err != nil {
			if errors.Is(err, safety.ErrObserveOnly) {
				return nil
			}
			if errors.Is(err, llm.ErrRateLimited) {
				// Provider pushback applies to the whole batch; the
				// tickets stay open and retry next tick.
				slog.Warn("Diagnosis rate limited, deferring remaining tickets")
				return nil
			}
			slog.Error("Diagnosis failed", "ticket_id", open[i].ID, "error", err)
		}
		diagnosed++
	}
	return nil
}

// DiagnoseOne diagnoses a single open ticket, stores the result, and acts
// on its recommendations. Refusals and truncations store an error marker
// and still transition the ticket to diagnosed; a re-fired violation
// clears the marker and re-queues it.
func (a *Agent) DiagnoseOne(ctx context.Context, ticketID int64) error {
	ticket, err := a.tickets.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status != models.TicketStatusOpen {
		return fmt.Errorf("ticket %d is %s, not open", ticketID, ticket.Status)
	}

	ticketContext, err := a.gatherer.Gather(ctx, ticket)
	if err != nil {
		return err
	}

	result, err := a.model.Diagnose(ctx, ticketContext, a.actionCatalog())
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, context.Canceled) {
			return err
		}
		slog.Warn("Diagnosis errored, marking ticket", "ticket_id", ticketID, "error", err)
		return a.tickets.UpdateDiagnosis(ctx, ticketID, FormatDiagnosisError(err.Error()))
	}

	switch result.Stop {
	case llm.StopRefusal:
		slog.Warn("Model refused diagnosis", "ticket_id", ticketID)
		return a.tickets.UpdateDiagnosis(ctx, ticketID,
			FormatDiagnosisError("the model declined to diagnose this ticket"))
	case llm.StopMaxTokens:
		slog.Warn("Diagnosis truncated", "ticket_id", ticketID)
		return a.tickets.UpdateDiagnosis(ctx, ticketID,
			FormatDiagnosisError("the model response was truncated before a diagnosis was recorded"))
	}

	markdown := FormatDiagnosis(result.Diagnosis)
	if err := a.tickets.UpdateDiagnosis(ctx, ticketID, markdown); err != nil {
		return err
	}
	slog.Info("Ticket diagnosed",
		"ticket_id", ticketID,
		"severity", result.Diagnosis.Severity,
		"recommendations", len(result.Diagnosis.Recommendations))

	if len(result.Diagnosis.Recommendations) == 0 {
		return nil
	}
	executed, err := a.actOnRecommendations(ctx, ticket, result.Diagnosis.Recommendations)
	if err != nil {
		return err
	}
	if executed > 0 {
		a.verify(ctx, ticket)
	}
	return nil
}

// actOnRecommendations drives recommendations through the full proposal
// lifecycle in order. The sequence stops at the first gate that blocks:
// later steps usually assume the earlier ones ran.
func (a *Agent) actOnRecommendations(ctx context.Context, ticket *models.Ticket, recs []models.ActionRecommendation) (int, error) {
	executed := 0
	for i, rec := range recs {
		p, err := a.dispatcher.Propose(ctx, dispatch.ProposalRequest{
			TicketID:   &ticket.ID,
			ActionName: rec.ActionName,
			Parameters: rec.Parameters,
			Reason:     rec.Reason,
			Identity:   a.identity,
		})
		if err != nil {
			if errors.Is(err, safety.ErrObserveOnly) {
				slog.Info("Observe mode, recommendations recorded but not proposed",
					"ticket_id", ticket.ID, "skipped", len(recs)-i)
				return executed, nil
			}
			slog.Warn("Recommendation rejected at proposal",
				"ticket_id", ticket.ID, "action", rec.ActionName, "error", err)
			return executed, nil
		}

		if _, err := a.dispatcher.ValidateProposal(ctx, p.ID); err != nil {
			slog.Warn("Recommendation failed validation",
				"proposal_id", p.ID, "action", rec.ActionName, "error", err)
			return executed, nil
		}

		record, err := a.dispatcher.ExecuteProposal(ctx, p.ID)
		if err != nil {
			if errors.Is(err, safety.ErrObserveOnly) {
				return executed, nil
			}
			if errors.Is(err, dispatch.ErrApprovalRequired) {
				slog.Info("Remediation paused pending approval",
					"proposal_id", p.ID, "action", rec.ActionName)
				return executed, nil
			}
			if errors.Is(err, dispatch.ErrRiskRefused) {
				slog.Warn("Remediation refused at critical session risk",
					"proposal_id", p.ID, "action", rec.ActionName)
				return executed, nil
			}
			slog.Error("Remediation dispatch failed",
				"proposal_id", p.ID, "action", rec.ActionName, "error", err)
			return executed, nil
		}
		if record.Success == nil || !*record.Success {
			// Failed executions belong to the retry queue now; do not run
			// dependent steps on top of a failed one.
			return executed, nil
		}
		executed++
	}
	return executed, nil
}

// verify waits out the verification delay and re-checks the ticket's
// violation against a fresh observation. Purely informational; the
// monitor remains the authority on resolution.
func (a *Agent) verify(ctx context.Context, ticket *models.Ticket) {
	if a.observer == nil || a.checker == nil || a.cfg.VerificationDelay <= 0 {
		return
	}
	select {
	case <-time.After(a.cfg.VerificationDelay):
	case <-ctx.Done():
		return
	}

	obs, err := a.observer.Observe(ctx)
	if err != nil {
		slog.Warn("Verification observation failed", "ticket_id", ticket.ID, "error", err)
		return
	}
	for _, v := range a.checker.Check(a.now(), obs) {
		if v.Key() == ticket.ViolationKey {
			slog.Warn("Remediation did not clear violation",
				"ticket_id", ticket.ID, "violation_key", ticket.ViolationKey)
			return
		}
	}
	slog.Info("Remediation verified, violation no longer observed",
		"ticket_id", ticket.ID, "violation_key", ticket.ViolationKey)
}

func (a *Agent) actionCatalog() []llm.ActionSpec {
	defs := a.registry.List()
	specs := make([]llm.ActionSpec, 0, len(defs))
	for _, def := range defs {
		params := make(map[string]any, len(def.Parameters))
		for name, pd := range def.Parameters {
			params[name] = map[string]any{
				"type":        string(pd.Type),
				"description": pd.Description,
				"required":    pd.Required,
			}
		}
		specs = append(specs, llm.ActionSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return specs
}
