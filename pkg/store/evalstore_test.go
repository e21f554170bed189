package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/models"
)

func newTestEvalStore(t *testing.T) *EvalStore {
	t.Helper()
	return NewEvalStore(openTestDB(t, database.MigrationsEval))
}

func TestCampaignTrialRoundTrip(t *testing.T) {
	s := newTestEvalStore(t)
	ctx := context.Background()

	c, err := s.CreateCampaign(ctx, &models.Campaign{
		SubjectName: "three-node-cluster",
		ChaosType:   "kill_node",
		TrialCount:  2,
		Baseline:    false,
		VariantName: "agent-v2",
	})
	require.NoError(t, err)
	require.NotZero(t, c.ID)

	started := time.Now().UTC().Add(-5 * time.Minute)
	injected := started.Add(10 * time.Second)
	ticketAt := injected.Add(20 * time.Second)
	resolvedAt := ticketAt.Add(90 * time.Second)
	commands := `[{"action_name":"container_start","at":"2026-08-24T10:00:00Z"}]`

	trial, err := s.CreateTrial(ctx, &models.Trial{
		CampaignID:      c.ID,
		StartedAt:       started,
		ChaosInjectedAt: injected,
		TicketCreatedAt: &ticketAt,
		ResolvedAt:      &resolvedAt,
		EndedAt:         resolvedAt.Add(time.Second),
		InitialState:    models.JSONMap{"nodes": float64(3)},
		FinalState:      models.JSONMap{"nodes": float64(3)},
		ChaosMetadata:   models.JSONMap{"node": "node-2"},
		CommandsJSON:    &commands,
	})
	require.NoError(t, err)

	got, err := s.GetTrial(ctx, trial.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.CampaignID)
	require.NotNil(t, got.TicketCreatedAt)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, float64(3), got.FinalState["nodes"])
	require.NotNil(t, got.CommandsJSON)
	assert.JSONEq(t, commands, *got.CommandsJSON)

	trials, err := s.ListTrials(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, trials, 1)
}

func TestListCampaignsBySubject(t *testing.T) {
	s := newTestEvalStore(t)
	ctx := context.Background()

	_, err := s.CreateCampaign(ctx, &models.Campaign{
		SubjectName: "three-node-cluster", ChaosType: "kill_node", TrialCount: 1, Baseline: true,
	})
	require.NoError(t, err)
	latest, err := s.CreateCampaign(ctx, &models.Campaign{
		SubjectName: "three-node-cluster", ChaosType: "kill_node", TrialCount: 1,
	})
	require.NoError(t, err)
	_, err = s.CreateCampaign(ctx, &models.Campaign{
		SubjectName: "three-node-cluster", ChaosType: "fill_disk", TrialCount: 1,
	})
	require.NoError(t, err)

	campaigns, err := s.ListCampaignsBySubject(ctx, "three-node-cluster", "kill_node")
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, latest.ID, campaigns[0].ID)

	_, err = s.GetCampaign(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}
