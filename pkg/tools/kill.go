package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// gracefulKillWait is how long host_kill_process waits after SIGTERM
// before escalating to SIGKILL.
const gracefulKillWait = 10 * time.Second

// ProcessKiller abstracts signal delivery so tests never signal real
// processes.
type ProcessKiller interface {
	Signal(pid int, sig syscall.Signal) error
	Alive(pid int) bool
}

type signalKiller struct{}

func (signalKiller) Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// Alive probes with signal 0. ESRCH means the process is gone; EPERM
// means it exists but belongs to someone else.
func (signalKiller) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// killProcess terminates a host process: PID sanity checks, SIGTERM, a
// bounded grace wait, then SIGKILL if it is still alive.
func (e *LocalExecutor) killProcess(ctx context.Context, params map[string]any) (map[string]any, error) {
	pid := intParam(params, "pid", 0)
	if pid <= 1 {
		return nil, fmt.Errorf("refusing to signal pid %d", pid)
	}
	if pid == os.Getpid() {
		return nil, fmt.Errorf("refusing to signal own process")
	}
	if !e.killer.Alive(pid) {
		return nil, fmt.Errorf("process %d not found", pid)
	}

	if err := e.killer.Signal(pid, syscall.SIGTERM); err != nil {
		return nil, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.NewTimer(gracefulKillWait)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-poll.C:
			if !e.killer.Alive(pid) {
				return map[string]any{"pid": pid, "signal": "SIGTERM"}, nil
			}
		case <-deadline.C:
			if err := e.killer.Signal(pid, syscall.SIGKILL); err != nil {
				return nil, fmt.Errorf("force kill pid %d: %w", pid, err)
			}
			return map[string]any{"pid": pid, "signal": "SIGKILL"}, nil
		}
	}
}
