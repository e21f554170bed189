package tools

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainers struct {
	started   []string
	stopped   []string
	execOut   string
	inspected map[string]any
}

func (f *fakeContainers) Start(ctx context.Context, container string) error {
	f.started = append(f.started, container)
	return nil
}
func (f *fakeContainers) Stop(ctx context.Context, container string, timeout time.Duration) error {
	f.stopped = append(f.stopped, container)
	return nil
}
func (f *fakeContainers) Restart(ctx context.Context, container string, timeout time.Duration) error {
	return nil
}
func (f *fakeContainers) Inspect(ctx context.Context, container string) (map[string]any, error) {
	return f.inspected, nil
}
func (f *fakeContainers) Logs(ctx context.Context, container string, lines int) (string, error) {
	return "line1\nline2", nil
}
func (f *fakeContainers) NetworkConnect(ctx context.Context, container, network string) error {
	return nil
}
func (f *fakeContainers) NetworkDisconnect(ctx context.Context, container, network string) error {
	return nil
}
func (f *fakeContainers) Exec(ctx context.Context, container, command string) (string, error) {
	return f.execOut, nil
}

type fakeSandbox struct {
	lastContent string
	lastTimeout time.Duration
	stdout      string
	err         error
}

func (f *fakeSandbox) Run(ctx context.Context, content string, timeout time.Duration) (string, error) {
	f.lastContent = content
	f.lastTimeout = timeout
	return f.stdout, f.err
}

// fakeKiller dies after a configurable number of TERM signals.
type fakeKiller struct {
	signals    []syscall.Signal
	termsUntil int
	terms      int
}

func (f *fakeKiller) Signal(pid int, sig syscall.Signal) error {
	f.signals = append(f.signals, sig)
	if sig == syscall.SIGTERM {
		f.terms++
	}
	return nil
}

func (f *fakeKiller) Alive(pid int) bool {
	return f.terms < f.termsUntil
}

func TestExecuteWait(t *testing.T) {
	e := NewLocalExecutor(newTestValidator())
	start := time.Now()
	out, err := e.Execute(context.Background(), "wait", map[string]any{"seconds": 0.01})
	require.NoError(t, err)
	assert.Equal(t, 0.01, out["waited_seconds"])
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestExecuteWaitCancellable(t *testing.T) {
	e := NewLocalExecutor(newTestValidator())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, "wait", map[string]any{"seconds": 60.0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteLogMessage(t *testing.T) {
	e := NewLocalExecutor(newTestValidator())
	out, err := e.Execute(context.Background(), "log_message",
		map[string]any{"message": "remediation applied", "level": "warn"})
	require.NoError(t, err)
	assert.Equal(t, true, out["logged"])
}

func TestContainerToolsRequireRuntime(t *testing.T) {
	e := NewLocalExecutor(newTestValidator())
	_, err := e.Execute(context.Background(), "container_start", map[string]any{"container": "db-1"})
	assert.ErrorIs(t, err, ErrToolUnavailable)

	_, err = e.Execute(context.Background(), "host_service_restart", map[string]any{"service": "nginx"})
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestContainerToolsDispatch(t *testing.T) {
	containers := &fakeContainers{
		execOut:   "uptime 5d",
		inspected: map[string]any{"state": "running"},
	}
	e := NewLocalExecutor(newTestValidator(), WithContainerRuntime(containers))
	ctx := context.Background()

	out, err := e.Execute(ctx, "container_start", map[string]any{"container": "db-1"})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, []string{"db-1"}, containers.started)

	out, err = e.Execute(ctx, "container_inspect", map[string]any{"container": "db-1"})
	require.NoError(t, err)
	assert.Equal(t, "running", out["state"])

	out, err = e.Execute(ctx, "container_logs", map[string]any{"container": "db-1", "lines": 50})
	require.NoError(t, err)
	assert.Contains(t, out["logs"], "line1")

	out, err = e.Execute(ctx, "container_exec", map[string]any{"container": "db-1", "command": "uptime"})
	require.NoError(t, err)
	assert.Equal(t, "uptime 5d", out["output"])
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewLocalExecutor(newTestValidator())
	_, err := e.Execute(context.Background(), "warp_drive", nil)
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestExecuteScript(t *testing.T) {
	sandbox := &fakeSandbox{stdout: "Filesystem ok"}
	e := NewLocalExecutor(newTestValidator(), WithSandbox(sandbox))
	ctx := context.Background()

	out, err := e.Execute(ctx, "execute_script",
		map[string]any{"content": "df -h", "timeout_seconds": 30})
	require.NoError(t, err)
	assert.Equal(t, "Filesystem ok", out["stdout"])
	assert.Equal(t, "df -h", sandbox.lastContent)
	assert.Equal(t, 30*time.Second, sandbox.lastTimeout)
}

func TestExecuteScriptTimeoutCapped(t *testing.T) {
	sandbox := &fakeSandbox{}
	e := NewLocalExecutor(newTestValidator(), WithSandbox(sandbox))

	_, err := e.Execute(context.Background(), "execute_script",
		map[string]any{"content": "sleep 1", "timeout_seconds": 3600})
	require.NoError(t, err)
	assert.Equal(t, MaxScriptTimeout, sandbox.lastTimeout)
}

func TestExecuteScriptRejectedBeforeSandbox(t *testing.T) {
	sandbox := &fakeSandbox{}
	e := NewLocalExecutor(newTestValidator(), WithSandbox(sandbox))

	_, err := e.Execute(context.Background(), "execute_script",
		map[string]any{"content": "rm -rf /"})
	require.Error(t, err)
	assert.Empty(t, sandbox.lastContent, "denied scripts never reach the sandbox")
}

func TestExecuteScriptWithoutSandbox(t *testing.T) {
	e := NewLocalExecutor(newTestValidator())
	_, err := e.Execute(context.Background(), "execute_script",
		map[string]any{"content": "df -h"})
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestKillProcessGuards(t *testing.T) {
	killer := &fakeKiller{termsUntil: 1}
	e := NewLocalExecutor(newTestValidator(), WithProcessKiller(killer))
	ctx := context.Background()

	_, err := e.Execute(ctx, "host_kill_process", map[string]any{"pid": 1})
	assert.Error(t, err)
	_, err = e.Execute(ctx, "host_kill_process", map[string]any{"pid": 0})
	assert.Error(t, err)
	_, err = e.Execute(ctx, "host_kill_process", map[string]any{"pid": -5})
	assert.Error(t, err)
	_, err = e.Execute(ctx, "host_kill_process", map[string]any{"pid": os.Getpid()})
	assert.Error(t, err)
	assert.Empty(t, killer.signals, "guard failures never signal")
}

func TestKillProcessNotFound(t *testing.T) {
	killer := &fakeKiller{termsUntil: 0} // already dead
	e := NewLocalExecutor(newTestValidator(), WithProcessKiller(killer))

	_, err := e.Execute(context.Background(), "host_kill_process", map[string]any{"pid": 4242})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestKillProcessGracefulTerm(t *testing.T) {
	killer := &fakeKiller{termsUntil: 1} // dies on first SIGTERM
	e := NewLocalExecutor(newTestValidator(), WithProcessKiller(killer))

	out, err := e.Execute(context.Background(), "host_kill_process", map[string]any{"pid": 4242})
	require.NoError(t, err)
	assert.Equal(t, "SIGTERM", out["signal"])
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, killer.signals)
}

func TestKillProcessCancelled(t *testing.T) {
	killer := &fakeKiller{termsUntil: 100} // never dies
	e := NewLocalExecutor(newTestValidator(), WithProcessKiller(killer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, "host_kill_process", map[string]any{"pid": 4242})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalKillerAliveOnMissingProcess(t *testing.T) {
	assert.False(t, signalKiller{}.Alive(1<<30), "absurd pid is not alive")
}
