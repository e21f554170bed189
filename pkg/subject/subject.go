// Package subject defines the boundary between the operator core and the
// supervised distributed system. Concrete adapters (a database cluster, a
// rate limiter, ...) live outside this module and implement these
// contracts; the core only ever sees observations, violations, and named
// actions.
package subject

import (
	"context"
	"time"

	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/registry"
)

// Observer queries the subject for a unified observation once per tick.
// Remote failures surface as errors; the monitor treats an error as a tick
// with no observation.
type Observer interface {
	Observe(ctx context.Context) (models.Observation, error)
}

// Checker evaluates an observation against the subject's invariants.
// It is pure in its observation argument but stateful over ticks: grace
// periods require tracking when each violation was first seen.
type Checker interface {
	Check(now time.Time, obs models.Observation) []models.Violation

	// InvariantCount returns the number of configured invariants, for the
	// monitor heartbeat line.
	InvariantCount() int
}

// ActionProvider exposes the subject's native action definitions so the
// registry can advertise them alongside the general tool catalog.
type ActionProvider interface {
	ActionDefinitions() []registry.ActionDefinition
}

// LogTailer optionally provides recent subject log lines for diagnosis
// context.
type LogTailer interface {
	LogTail(ctx context.Context, lines int) (string, error)
}

// Subject is the full eval-harness contract: everything a chaos trial
// needs to reset, break, observe, and score the target system.
type Subject interface {
	Observer

	// Reset restores a clean subject state before a trial.
	Reset(ctx context.Context) error

	// WaitHealthy polls until the subject reports healthy or the timeout
	// elapses.
	WaitHealthy(ctx context.Context, timeout time.Duration) error

	// CaptureState returns an opaque snapshot of subject state.
	CaptureState(ctx context.Context) (map[string]any, error)

	// InjectChaos applies the named chaos and returns metadata needed to
	// clean it up.
	InjectChaos(ctx context.Context, chaosType string, params map[string]any) (map[string]any, error)

	// CleanupChaos undoes a previous injection. Best-effort; failures are
	// logged, not treated as trial failures.
	CleanupChaos(ctx context.Context, metadata map[string]any) error

	// ChaosTypes lists the chaos kinds this subject supports.
	ChaosTypes() []string

	// Healthy is the subject-defined health predicate applied to a
	// captured state when scoring trials.
	Healthy(state map[string]any) bool
}
