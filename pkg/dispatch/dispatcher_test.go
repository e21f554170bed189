package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/authz"
	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/masking"
	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/registry"
	"github.com/vigil-ops/vigil/pkg/risk"
	"github.com/vigil-ops/vigil/pkg/safety"
	"github.com/vigil-ops/vigil/pkg/store"
)

type fakeExecutor struct {
	calls  []string
	params []map[string]any
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, name)
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"ok": true}, nil
}

type testEnv struct {
	d       *Dispatcher
	actions *store.ActionStore
	audit   *store.AuditStore
	reg     *registry.Registry
	sc      *safety.Controller
	rt      *risk.Tracker
	exec    *fakeExecutor
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db, err := database.Open(context.Background(),
		filepath.Join(t.TempDir(), "actions.db"), database.MigrationsActions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		actions: store.NewActionStore(db),
		reg:     registry.New(),
		rt:      risk.NewTracker(risk.DefaultConfig()),
		exec:    &fakeExecutor{},
	}
	env.audit = store.NewAuditStore(db, masking.NewRedactor(masking.Config{}))
	env.sc = safety.NewController(env.actions, env.audit)
	require.NoError(t, env.sc.SetMode(context.Background(), safety.ModeExecute, "test"))
	env.d = New(cfg, env.actions, env.audit, env.reg, env.sc, authz.New(nil, nil), env.rt, env.exec)
	return env
}

func systemIdentity() Identity {
	return Identity{RequesterID: "operator", RequesterType: models.RequesterTypeSystem}
}

func TestProposalLifecycle(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "container_restart",
		Parameters: map[string]any{"container": "db-1"},
		Reason:     "container wedged",
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusProposed, p.Status)
	assert.Equal(t, 10, toInt(t, p.Parameters["timeout"]), "default filled in at proposal time")

	p, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusValidated, p.Status)

	record, err := env.d.ExecuteProposal(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, record.Success)
	assert.True(t, *record.Success)
	assert.Equal(t, true, record.ResultData["ok"])

	done, err := env.actions.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusCompleted, done.Status)

	require.Equal(t, []string{"container_restart"}, env.exec.calls)
	assert.Equal(t, "db-1", env.exec.params[0]["container"])

	events, err := env.audit.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	types := eventTypes(events)
	assert.Equal(t, []models.AuditEventType{
		models.AuditEventProposed,
		models.AuditEventValidated,
		models.AuditEventExecuting,
		models.AuditEventCompleted,
	}, types)
}

func TestProposeBlockedInObserveMode(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, env.sc.SetMode(ctx, safety.ModeObserve, "test"))

	_, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	assert.ErrorIs(t, err, safety.ErrObserveOnly)

	_, _, err = env.d.ProposeWorkflow(ctx, WorkflowRequest{
		Name:     "noop",
		Identity: systemIdentity(),
		Steps:    []WorkflowStep{{ActionName: "wait", Parameters: map[string]any{"seconds": 1.0}}},
	})
	assert.ErrorIs(t, err, safety.ErrObserveOnly)

	_, err = env.d.ValidateProposal(ctx, 1)
	assert.ErrorIs(t, err, safety.ErrObserveOnly)

	_, err = env.d.ExecuteProposal(ctx, 1)
	assert.ErrorIs(t, err, safety.ErrObserveOnly)
}

func TestProposeRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	_, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "warp_drive",
		Identity:   systemIdentity(),
	})
	assert.ErrorIs(t, err, registry.ErrUnknownAction)

	_, err = env.d.Propose(ctx, ProposalRequest{
		ActionName: "container_restart",
		Parameters: map[string]any{"container": 42},
		Identity:   systemIdentity(),
	})
	assert.True(t, registry.IsValidationError(err))
}

func TestExecuteRequiresValidatedStatus(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)

	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestApprovalRequiredByDefinition(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "container_stop",
		Parameters: map[string]any{"container": "db-1"},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)

	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.ErrorIs(t, err, ErrApprovalRequired)

	// approval unblocks; proposal stayed validated in between
	require.NoError(t, env.d.Approve(ctx, p.ID, "alice"))
	record, err := env.d.ExecuteProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, *record.Success)
}

func TestApprovalModeForcesApprovalEverywhere(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApprovalMode = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)

	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.ErrorIs(t, err, ErrApprovalRequired)
}

func TestCriticalRiskRefusesExecution(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	now := time.Now()

	// drive the session score past the critical threshold
	for i := 0; i < 8; i++ {
		env.rt.Record("host_kill_process", now.Add(-time.Minute))
	}

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, env.d.Approve(ctx, p.ID, "alice"))

	// even an approved low-risk action is refused
	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.ErrorIs(t, err, ErrRiskRefused)
}

func TestCriticalRiskDemandsApprovalWhenNotRefusing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefuseCritical = false
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 8; i++ {
		env.rt.Record("host_kill_process", now.Add(-time.Minute))
	}

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)

	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.ErrorIs(t, err, ErrApprovalRequired)

	require.NoError(t, env.d.Approve(ctx, p.ID, "alice"))
	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.NoError(t, err)
}

func TestScheduledProposalWaitsForItsTime(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	t0 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	env.d.SetClock(func() time.Time { return t0 })

	at := t0.Add(time.Minute)
	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName:  "wait",
		Parameters:  map[string]any{"seconds": 1.0},
		Identity:    systemIdentity(),
		ScheduledAt: &at,
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)

	_, err = env.d.ExecuteProposal(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotScheduledYet)

	env.d.SetClock(func() time.Time { return t0.Add(2 * time.Minute) })
	record, err := env.d.ExecuteProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, *record.Success)
}

func TestRetrySchedulingThenExhaustion(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	env.exec.err = errors.New("connection refused")

	t0 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	env.d.SetClock(func() time.Time { return t0 })

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)

	// initial attempt plus three retries, all failing
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			require.NoError(t, env.actions.ResetForRetry(ctx, p.ID))
		}
		record, err := env.d.ExecuteProposal(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, record.Success)
		assert.False(t, *record.Success)
		assert.Equal(t, "connection refused", *record.ErrorMessage)
	}

	final, err := env.actions.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.Nil(t, final.NextRetryAt, "exhausted proposals leave the retry queue")

	scheduled, err := env.audit.ListByType(ctx, models.AuditEventRetryScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 3)

	var previous time.Time
	for i, ev := range scheduled {
		assert.EqualValues(t, i+1, ev.EventData["retry_count"])
		raw, _ := ev.EventData["next_retry_at"].(string)
		next, err := time.Parse(time.RFC3339Nano, raw)
		require.NoError(t, err)
		assert.True(t, next.After(previous), "retry deadlines grow with each attempt")
		previous = next
	}

	exhausted, err := env.audit.ListByType(ctx, models.AuditEventRetryExhausted)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "connection refused", exhausted[0].EventData["last_error"])

	// nothing left to pick up
	eligible, err := env.actions.RetryEligible(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestWorkflowDependencyGating(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	w, members, err := env.d.ProposeWorkflow(ctx, WorkflowRequest{
		Name:     "recover-db",
		Identity: systemIdentity(),
		Steps: []WorkflowStep{
			{ActionName: "container_start", Parameters: map[string]any{"container": "db-1"}, Reason: "bring node back"},
			{ActionName: "container_inspect", Parameters: map[string]any{"container": "db-1"}, Reason: "confirm healthy"},
		},
	})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, models.WorkflowStatusPending, w.Status)
	require.NotNil(t, members[1].DependsOnProposalID)
	assert.Equal(t, members[0].ID, *members[1].DependsOnProposalID)

	for _, m := range members {
		_, err := env.d.ValidateProposal(ctx, m.ID)
		require.NoError(t, err)
	}

	// step 2 cannot run before step 1 completes
	_, err = env.d.ExecuteProposal(ctx, members[1].ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waits on")

	_, err = env.d.ExecuteProposal(ctx, members[0].ID)
	require.NoError(t, err)
	record, err := env.d.ExecuteProposal(ctx, members[1].ID)
	require.NoError(t, err)
	assert.True(t, *record.Success)

	assert.Equal(t, []string{"container_start", "container_inspect"}, env.exec.calls)
}

func TestWorkflowValidatesAllStepsUpFront(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	_, _, err := env.d.ProposeWorkflow(ctx, WorkflowRequest{
		Name:     "broken",
		Identity: systemIdentity(),
		Steps: []WorkflowStep{
			{ActionName: "container_start", Parameters: map[string]any{"container": "db-1"}},
			{ActionName: "warp_drive"},
		},
	})
	assert.ErrorIs(t, err, registry.ErrUnknownAction)

	// no orphaned proposals from the valid first step
	proposals, err := env.actions.ListProposals(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestSubjectCallbackPreferredOverExecutor(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	called := false
	require.NoError(t, env.reg.RegisterSubjectAction(
		registry.ActionDefinition{
			Name:       "reset_counter",
			ActionType: models.ActionTypeSubject,
			RiskLevel:  models.RiskLevelLow,
		},
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			called = true
			return map[string]any{"reset": true}, nil
		},
	))

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "reset_counter",
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = env.d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)
	record, err := env.d.ExecuteProposal(ctx, p.ID)
	require.NoError(t, err)

	assert.True(t, called)
	assert.True(t, *record.Success)
	assert.Empty(t, env.exec.calls, "tool executor is bypassed for subject actions")
}

func TestRejectWritesAuditTrail(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	p, err := env.d.Propose(ctx, ProposalRequest{
		ActionName: "container_stop",
		Parameters: map[string]any{"container": "db-1"},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)

	require.NoError(t, env.d.Reject(ctx, p.ID, "alice", "not during business hours"))

	got, err := env.actions.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusCancelled, got.Status)

	events, err := env.audit.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, models.AuditEventCancelled, last.EventType)
	assert.Equal(t, "not during business hours", last.EventData["reason"])
}

type denyPermission struct{}

func (denyPermission) CheckPermission(ctx context.Context, requesterID, actionName string) error {
	return errors.New("requester is not allowlisted")
}

func TestAuthorizationDenialAuditedAsCancelled(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	d := New(DefaultConfig(), env.actions, env.audit, env.reg, env.sc,
		authz.New(denyPermission{}, nil), env.rt, env.exec)

	p, err := d.Propose(ctx, ProposalRequest{
		ActionName: "wait",
		Parameters: map[string]any{"seconds": 1.0},
		Identity:   systemIdentity(),
	})
	require.NoError(t, err)
	_, err = d.ValidateProposal(ctx, p.ID)
	require.NoError(t, err)

	_, err = d.ExecuteProposal(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, authz.IsAuthorizationError(err))
	assert.Empty(t, env.exec.calls, "denied proposals never execute")

	events, err := env.audit.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []models.AuditEventType{
		models.AuditEventProposed,
		models.AuditEventValidated,
		models.AuditEventCancelled,
	}, eventTypes(events))
	assert.Contains(t, events[2].EventData["reason"], "not allowlisted")
}

func eventTypes(events []models.AuditEvent) []models.AuditEventType {
	types := make([]models.AuditEventType, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

func toInt(t *testing.T, v any) int {
	t.Helper()
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		t.Fatalf("not a number: %T", v)
		return 0
	}
}
