package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/subject"
)

type fakeObserver struct {
	obs models.Observation
	err error
}

func (f *fakeObserver) Observe(ctx context.Context) (models.Observation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.obs, nil
}

func newTestMonitor(t *testing.T, observer subject.Observer, checker subject.Checker) (*Monitor, *store.TicketStore) {
	t.Helper()
	db, err := database.Open(context.Background(),
		filepath.Join(t.TempDir(), "tickets.db"), database.MigrationsTickets)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tickets := store.NewTicketStore(db)
	return New(DefaultConfig(), observer, checker, tickets), tickets
}

func nodeChecker() subject.Checker {
	return subject.NewGraceChecker([]subject.Rule{{
		Invariant: "all_nodes_up",
		Severity:  models.SeverityHigh,
		Eval: func(obs models.Observation) []subject.Finding {
			downs, _ := obs["down_nodes"].([]string)
			findings := make([]subject.Finding, 0, len(downs))
			for _, node := range downs {
				n := node
				findings = append(findings, subject.Finding{EntityID: &n, Message: n + " is down"})
			}
			return findings
		},
	}})
}

func TestTickCreatesTicketForViolation(t *testing.T) {
	observer := &fakeObserver{obs: models.Observation{"down_nodes": []string{"node-2"}, "qps": 120.0}}
	m, tickets := newTestMonitor(t, observer, nodeChecker())
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx))

	open, err := tickets.List(ctx, models.TicketStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "all_nodes_up:node-2", open[0].ViolationKey)
	assert.Equal(t, 1, open[0].OccurrenceCount)
	assert.Equal(t, 120.0, open[0].MetricSnapshot["qps"])
	require.NotNil(t, open[0].BatchKey)
}

func TestRepeatedTickDeduplicates(t *testing.T) {
	observer := &fakeObserver{obs: models.Observation{"down_nodes": []string{"node-2"}}}
	m, tickets := newTestMonitor(t, observer, nodeChecker())
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))

	open, err := tickets.List(ctx, models.TicketStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 3, open[0].OccurrenceCount)
}

func TestClearedViolationAutoResolves(t *testing.T) {
	observer := &fakeObserver{obs: models.Observation{"down_nodes": []string{"node-2"}}}
	m, tickets := newTestMonitor(t, observer, nodeChecker())
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx))
	open, err := tickets.List(ctx, models.TicketStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)

	observer.obs = models.Observation{"down_nodes": []string{}}
	require.NoError(t, m.Tick(ctx))

	resolved, err := tickets.Get(ctx, open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestObservationFailureSkipsTick(t *testing.T) {
	observer := &fakeObserver{obs: models.Observation{"down_nodes": []string{"node-2"}}}
	m, tickets := newTestMonitor(t, observer, nodeChecker())
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx))
	open, err := tickets.List(ctx, models.TicketStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// no observation means no auto-resolve: the violation may still hold
	observer.err = errors.New("subject unreachable")
	require.NoError(t, m.Tick(ctx))

	still, err := tickets.Get(ctx, open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusOpen, still.Status)
	assert.Equal(t, 1, still.OccurrenceCount)
}

func TestBatchKeySharedWithinTick(t *testing.T) {
	observer := &fakeObserver{obs: models.Observation{"down_nodes": []string{"node-1", "node-2"}}}
	m, tickets := newTestMonitor(t, observer, nodeChecker())
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx))

	open, err := tickets.List(ctx, models.TicketStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.NotNil(t, open[0].BatchKey)
	require.NotNil(t, open[1].BatchKey)
	assert.Equal(t, *open[0].BatchKey, *open[1].BatchKey)
}

func TestStartStop(t *testing.T) {
	observer := &fakeObserver{obs: models.Observation{"down_nodes": []string{}}}
	m, _ := newTestMonitor(t, observer, nodeChecker())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Stop() // idempotent
}
