// Package safety owns the process-wide execution mode and the kill
// switch. The controller is created once at startup and passed to
// constructors; there is no ambient global state.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vigil-ops/vigil/pkg/store"
)

// Mode gates all action mutation.
type Mode string

// Execution modes. The default is observe: the operator watches and
// diagnoses but never mutates the subject.
const (
	ModeObserve Mode = "observe"
	ModeExecute Mode = "execute"
)

// ErrObserveOnly is the typed signal raised when an action mutation is
// attempted in observe mode. Callers skip the batch rather than fail hard.
var ErrObserveOnly = errors.New("operator is in observe-only mode")

// KillResult reports what the kill switch terminated.
type KillResult struct {
	PendingProposals int `json:"pending_proposals"`
	DockerContainers int `json:"docker_containers"`
	TasksCancelled   int `json:"tasks_cancelled"`
}

// TaskCanceler cancels in-flight operator work (LLM calls, verification
// sleeps). The agent registers one at startup.
type TaskCanceler interface {
	CancelAll() int
}

// ContainerStopper force-stops operator-owned child containers. Optional;
// nil means no container runtime is wired.
type ContainerStopper interface {
	StopAll(ctx context.Context) (int, error)
}

// Controller holds the mode state and implements the kill switch.
type Controller struct {
	mu   sync.RWMutex
	mode Mode

	actions    *store.ActionStore
	audit      *store.AuditStore
	canceler   TaskCanceler
	containers ContainerStopper
}

// NewController creates a controller in observe mode.
func NewController(actions *store.ActionStore, audit *store.AuditStore) *Controller {
	return &Controller{
		mode:    ModeObserve,
		actions: actions,
		audit:   audit,
	}
}

// SetTaskCanceler registers the in-flight task canceler.
func (c *Controller) SetTaskCanceler(tc TaskCanceler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceler = tc
}

// SetContainerStopper registers the container runtime hook.
func (c *Controller) SetContainerStopper(cs ContainerStopper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers = cs
}

// Mode returns the current execution mode.
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// CheckCanExecute fails with ErrObserveOnly unless the mode is execute.
func (c *Controller) CheckCanExecute() error {
	if c.Mode() != ModeExecute {
		return ErrObserveOnly
	}
	return nil
}

// SetMode switches the execution mode and logs a mode_change audit event.
// Switching to observe cancels all non-terminal proposals — the quiet
// form of the kill switch.
func (c *Controller) SetMode(ctx context.Context, mode Mode, actor string) error {
	if mode != ModeObserve && mode != ModeExecute {
		return fmt.Errorf("invalid mode %q", mode)
	}

	c.mu.Lock()
	previous := c.mode
	c.mode = mode
	c.mu.Unlock()

	var cancelled []int64
	if mode == ModeObserve && previous != ModeObserve {
		var err error
		cancelled, err = c.actions.CancelNonTerminal(ctx, "mode switched to observe")
		if err != nil {
			return fmt.Errorf("cancel proposals on mode change: %w", err)
		}
	}

	slog.Info("Safety mode changed",
		"from", previous, "to", mode, "actor", actor, "cancelled", len(cancelled))

	return c.audit.Append(ctx, nil, "mode_change", map[string]any{
		"from":      string(previous),
		"to":        string(mode),
		"cancelled": len(cancelled),
	}, actor)
}

// KillSwitch cancels every pending proposal, forces observe mode, and
// terminates force-killable child activity. Atomic from the caller's
// perspective: after it returns no proposal is in proposed, validated, or
// executing, and the mode is observe.
func (c *Controller) KillSwitch(ctx context.Context, actor string) (KillResult, error) {
	c.mu.Lock()
	c.mode = ModeObserve
	canceler := c.canceler
	containers := c.containers
	c.mu.Unlock()

	var result KillResult

	cancelled, err := c.actions.CancelNonTerminal(ctx, "kill switch")
	if err != nil {
		return result, fmt.Errorf("cancel proposals: %w", err)
	}
	result.PendingProposals = len(cancelled)

	if canceler != nil {
		result.TasksCancelled = canceler.CancelAll()
	}
	if containers != nil {
		n, err := containers.StopAll(ctx)
		if err != nil {
			slog.Error("Kill switch container shutdown failed", "error", err)
		}
		result.DockerContainers = n
	}

	slog.Warn("Kill switch activated",
		"actor", actor,
		"pending_proposals", result.PendingProposals,
		"docker_containers", result.DockerContainers,
		"tasks_cancelled", result.TasksCancelled)

	if err := c.audit.Append(ctx, nil, "kill_switch", map[string]any{
		"pending_proposals": result.PendingProposals,
		"docker_containers": result.DockerContainers,
		"tasks_cancelled":   result.TasksCancelled,
	}, actor); err != nil {
		return result, fmt.Errorf("audit kill switch: %w", err)
	}

	return result, nil
}
