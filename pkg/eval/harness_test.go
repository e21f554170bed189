package eval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/masking"
	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
)

// scriptedSubject simulates a supervised system whose operator reaction
// is scripted into chaos injection itself.
type scriptedSubject struct {
	tickets *store.TicketStore
	audit   *store.AuditStore

	ticketOnChaos  bool
	resolveOnChaos bool
	cleanups       int
}

func (s *scriptedSubject) Observe(ctx context.Context) (models.Observation, error) {
	return models.Observation{"nodes_up": 3.0}, nil
}
func (s *scriptedSubject) Reset(ctx context.Context) error { return nil }
func (s *scriptedSubject) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	return nil
}
func (s *scriptedSubject) CaptureState(ctx context.Context) (map[string]any, error) {
	return map[string]any{"healthy": true}, nil
}

func (s *scriptedSubject) InjectChaos(ctx context.Context, chaosType string, params map[string]any) (map[string]any, error) {
	if s.ticketOnChaos {
		now := time.Now().UTC()
		entity := "node-2"
		ticket, err := s.tickets.CreateOrUpdate(ctx, models.Violation{
			InvariantName: "all_nodes_up",
			Message:       "node-2 is down",
			EntityID:      &entity,
			Severity:      models.SeverityHigh,
			FirstSeen:     now,
			LastSeen:      now,
		}, nil, "trial-batch")
		if err != nil {
			return nil, err
		}
		if err := s.audit.Append(ctx, nil, models.AuditEventExecuting,
			map[string]any{"action_name": "container_start"}, "system"); err != nil {
			return nil, err
		}
		if s.resolveOnChaos {
			if err := s.tickets.Resolve(ctx, ticket.ID); err != nil {
				return nil, err
			}
		}
	}
	return map[string]any{"victim": "node-2"}, nil
}

func (s *scriptedSubject) CleanupChaos(ctx context.Context, metadata map[string]any) error {
	s.cleanups++
	return nil
}
func (s *scriptedSubject) ChaosTypes() []string            { return []string{"kill_node"} }
func (s *scriptedSubject) Healthy(state map[string]any) bool {
	ok, _ := state["healthy"].(bool)
	return ok
}

type harnessEnv struct {
	harness *Harness
	tickets *store.TicketStore
	audit   *store.AuditStore
	evals   *store.EvalStore
}

func newHarnessEnv(t *testing.T) *harnessEnv {
	t.Helper()
	ctx := context.Background()

	ticketsDB, err := database.Open(ctx, filepath.Join(t.TempDir(), "tickets.db"), database.MigrationsTickets)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ticketsDB.Close() })
	actionsDB, err := database.Open(ctx, filepath.Join(t.TempDir(), "actions.db"), database.MigrationsActions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = actionsDB.Close() })
	evalDB, err := database.Open(ctx, filepath.Join(t.TempDir(), "eval.db"), database.MigrationsEval)
	require.NoError(t, err)
	t.Cleanup(func() { _ = evalDB.Close() })

	env := &harnessEnv{
		tickets: store.NewTicketStore(ticketsDB),
		evals:   store.NewEvalStore(evalDB),
	}
	env.audit = store.NewAuditStore(actionsDB, masking.NewRedactor(masking.Config{}))

	cfg := HarnessConfig{
		HealthyTimeout: time.Second,
		DetectTimeout:  200 * time.Millisecond,
		ResolveTimeout: 200 * time.Millisecond,
		BaselineWait:   10 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
	env.harness = NewHarness(cfg, env.tickets, store.NewActionStore(actionsDB), env.audit, env.evals)
	return env
}

func (env *harnessEnv) campaign(t *testing.T, baseline bool) *models.Campaign {
	t.Helper()
	c, err := env.evals.CreateCampaign(context.Background(), &models.Campaign{
		SubjectName: "three-node-cluster",
		ChaosType:   "kill_node",
		TrialCount:  1,
		Baseline:    baseline,
	})
	require.NoError(t, err)
	return c
}

func TestRunTrialOperatorResolves(t *testing.T) {
	env := newHarnessEnv(t)
	ctx := context.Background()
	subj := &scriptedSubject{
		tickets:        env.tickets,
		audit:          env.audit,
		ticketOnChaos:  true,
		resolveOnChaos: true,
	}

	trial, err := env.harness.RunTrial(ctx, env.campaign(t, false), subj, nil)
	require.NoError(t, err)
	require.NotZero(t, trial.ID)

	require.NotNil(t, trial.TicketCreatedAt)
	require.NotNil(t, trial.ResolvedAt)
	assert.Equal(t, 1, subj.cleanups)
	require.NotNil(t, trial.CommandsJSON)
	assert.Contains(t, *trial.CommandsJSON, "container_start")

	score, err := ScoreTrial(trial, subj.Healthy)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, score.Outcome)
}

func TestRunTrialTimesOutWithoutDetection(t *testing.T) {
	env := newHarnessEnv(t)
	ctx := context.Background()
	subj := &scriptedSubject{tickets: env.tickets, audit: env.audit}

	trial, err := env.harness.RunTrial(ctx, env.campaign(t, false), subj, nil)
	require.NoError(t, err)

	assert.Nil(t, trial.TicketCreatedAt)
	assert.Nil(t, trial.ResolvedAt)
	assert.Nil(t, trial.CommandsJSON)

	score, err := ScoreTrial(trial, subj.Healthy)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, score.Outcome)
}

func TestRunTrialBaselineSkipsOperatorWatch(t *testing.T) {
	env := newHarnessEnv(t)
	ctx := context.Background()
	subj := &scriptedSubject{
		tickets:       env.tickets,
		audit:         env.audit,
		ticketOnChaos: true,
	}

	trial, err := env.harness.RunTrial(ctx, env.campaign(t, true), subj, nil)
	require.NoError(t, err)

	// baselines measure self-healing: no ticket tracking, no commands
	assert.Nil(t, trial.TicketCreatedAt)
	assert.Nil(t, trial.CommandsJSON)
	assert.Equal(t, 1, subj.cleanups)
}
