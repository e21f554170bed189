// Package monitor runs the detection loop: observe the subject, check
// invariants, reconcile tickets. It owns no diagnosis or action logic;
// everything it learns lands in the ticket store for the agent to pick up.
package monitor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/subject"
)

// Config tunes the monitor loop.
type Config struct {
	// Interval between ticks.
	Interval time.Duration

	// JitterFraction randomizes each sleep by +/- this fraction so
	// co-located daemons do not synchronize.
	JitterFraction float64
}

// DefaultConfig returns the default loop timing.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		JitterFraction: 0.1,
	}
}

// Monitor drives the tick loop. One instance per subject; ticks never
// overlap.
type Monitor struct {
	cfg      Config
	observer subject.Observer
	checker  subject.Checker
	tickets  *store.TicketStore
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a monitor.
func New(cfg Config, observer subject.Observer, checker subject.Checker, tickets *store.TicketStore) *Monitor {
	return &Monitor{
		cfg:      cfg,
		observer: observer,
		checker:  checker,
		tickets:  tickets,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// SetClock overrides the monitor clock (used in tests).
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Start launches the tick loop in a background goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
	slog.Info("Monitor started", "interval", m.cfg.Interval)
}

// Stop signals the loop to exit and waits for the in-flight tick.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	slog.Info("Monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		if err := m.Tick(ctx); err != nil {
			slog.Error("Monitor tick failed", "error", err)
		}
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(m.sleepInterval()):
		}
	}
}

// sleepInterval jitters the configured interval.
func (m *Monitor) sleepInterval() time.Duration {
	if m.cfg.JitterFraction <= 0 {
		return m.cfg.Interval
	}
	j := m.cfg.JitterFraction
	factor := 1 - j + 2*j*rand.Float64()
	return time.Duration(float64(m.cfg.Interval) * factor)
}

// Tick performs one observe-check-reconcile pass. An observation failure
// is a tick with no observation: nothing is created and nothing is
// auto-resolved, because absence of data is not absence of violations.
func (m *Monitor) Tick(ctx context.Context) error {
	now := m.now()

	obs, err := m.observer.Observe(ctx)
	if err != nil {
		slog.Warn("Observation failed, skipping tick", "error", err)
		return nil
	}

	violations := m.checker.Check(now, obs)

	// All tickets touched in one tick share a batch key so the agent can
	// diagnose co-occurring violations together.
	batchKey := uuid.NewString()
	snapshot := models.JSONMap(obs)

	currentKeys := make(map[string]struct{}, len(violations))
	for _, v := range violations {
		currentKeys[v.Key()] = struct{}{}
		ticket, err := m.tickets.CreateOrUpdate(ctx, v, snapshot, batchKey)
		if err != nil {
			slog.Error("Ticket reconcile failed", "violation_key", v.Key(), "error", err)
			continue
		}
		slog.Info("Violation ticketed",
			"ticket_id", ticket.ID,
			"violation_key", v.Key(),
			"severity", v.Severity,
			"occurrences", ticket.OccurrenceCount)
	}

	resolved, err := m.tickets.AutoResolveCleared(ctx, currentKeys)
	if err != nil {
		return err
	}
	if resolved > 0 {
		slog.Info("Tickets auto-resolved", "count", resolved)
	}

	if len(violations) == 0 {
		slog.Info("Check complete", "invariants", m.checker.InvariantCount(), "status", "all passing")
	} else {
		slog.Info("Check complete", "invariants", m.checker.InvariantCount(), "violations", len(violations))
	}
	return nil
}
