// Package tools executes the operator's general tool actions. The local
// executor implements the tools that need no external runtime (wait,
// log_message, host process kill, script validation); container and host
// service tools delegate to pluggable runtime contracts so deployments
// can wire docker, systemd, or anything satisfying the interfaces.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrToolUnavailable is returned when a tool's backing runtime is not
// wired in this deployment.
var ErrToolUnavailable = errors.New("tool runtime not available")

// Executor dispatches a general tool by name with validated parameters.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// ContainerRuntime is the contract container_* tools call into.
type ContainerRuntime interface {
	Start(ctx context.Context, container string) error
	Stop(ctx context.Context, container string, timeout time.Duration) error
	Restart(ctx context.Context, container string, timeout time.Duration) error
	Inspect(ctx context.Context, container string) (map[string]any, error)
	Logs(ctx context.Context, container string, lines int) (string, error)
	NetworkConnect(ctx context.Context, container, network string) error
	NetworkDisconnect(ctx context.Context, container, network string) error
	Exec(ctx context.Context, container, command string) (string, error)
}

// HostRuntime is the contract host_service_* tools call into.
type HostRuntime interface {
	ServiceStart(ctx context.Context, service string) error
	ServiceStop(ctx context.Context, service string) error
	ServiceRestart(ctx context.Context, service string) error
}

// Sandbox runs validated script content in isolation: no network,
// memory/CPU/process caps, read-only filesystem, non-root user, ephemeral
// container, hard timeout.
type Sandbox interface {
	Run(ctx context.Context, content string, timeout time.Duration) (stdout string, err error)
}

// LocalExecutor implements Executor. Runtime hooks may be nil; tools that
// need an absent runtime fail with ErrToolUnavailable.
type LocalExecutor struct {
	containers ContainerRuntime
	host       HostRuntime
	sandbox    Sandbox
	validator  *ScriptValidator
	killer     ProcessKiller
}

// Option configures a LocalExecutor.
type Option func(*LocalExecutor)

// WithContainerRuntime wires the container runtime.
func WithContainerRuntime(rt ContainerRuntime) Option {
	return func(e *LocalExecutor) { e.containers = rt }
}

// WithHostRuntime wires the host service runtime.
func WithHostRuntime(rt HostRuntime) Option {
	return func(e *LocalExecutor) { e.host = rt }
}

// WithSandbox wires the script sandbox.
func WithSandbox(sb Sandbox) Option {
	return func(e *LocalExecutor) { e.sandbox = sb }
}

// WithProcessKiller overrides the process killer (used in tests).
func WithProcessKiller(k ProcessKiller) Option {
	return func(e *LocalExecutor) { e.killer = k }
}

// NewLocalExecutor creates an executor with the given runtime hooks.
func NewLocalExecutor(validator *ScriptValidator, opts ...Option) *LocalExecutor {
	e := &LocalExecutor{
		validator: validator,
		killer:    signalKiller{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches the named tool. Parameters are assumed validated
// against the registry definition by the dispatcher.
func (e *LocalExecutor) Execute(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	switch name {
	case "wait":
		return e.wait(ctx, params)
	case "log_message":
		return e.logMessage(params)
	case "host_kill_process":
		return e.killProcess(ctx, params)
	case "execute_script":
		return e.executeScript(ctx, params)
	case "container_start", "container_stop", "container_restart",
		"container_inspect", "container_logs",
		"container_network_connect", "container_network_disconnect",
		"container_exec":
		return e.containerTool(ctx, name, params)
	case "host_service_start", "host_service_stop", "host_service_restart":
		return e.hostTool(ctx, name, params)
	default:
		return nil, fmt.Errorf("%w: unknown tool %s", ErrToolUnavailable, name)
	}
}

func (e *LocalExecutor) wait(ctx context.Context, params map[string]any) (map[string]any, error) {
	seconds := floatParam(params, "seconds")
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return map[string]any{"waited_seconds": seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *LocalExecutor) logMessage(params map[string]any) (map[string]any, error) {
	message, _ := params["message"].(string)
	level, _ := params["level"].(string)
	switch level {
	case "warn", "warning":
		slog.Warn(message, "source", "log_message")
	case "error":
		slog.Error(message, "source", "log_message")
	default:
		slog.Info(message, "source", "log_message")
	}
	return map[string]any{"logged": true}, nil
}

func (e *LocalExecutor) executeScript(ctx context.Context, params map[string]any) (map[string]any, error) {
	content, _ := params["content"].(string)
	if err := e.validator.Validate(content); err != nil {
		return nil, err
	}
	if e.sandbox == nil {
		return nil, fmt.Errorf("execute_script: %w", ErrToolUnavailable)
	}
	timeout := time.Duration(intParam(params, "timeout_seconds", 60)) * time.Second
	if timeout > MaxScriptTimeout {
		timeout = MaxScriptTimeout
	}
	stdout, err := e.sandbox.Run(ctx, content, timeout)
	if err != nil {
		return nil, fmt.Errorf("execute_script: %w", err)
	}
	return map[string]any{"stdout": stdout}, nil
}

func (e *LocalExecutor) containerTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if e.containers == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrToolUnavailable)
	}
	container, _ := params["container"].(string)
	switch name {
	case "container_start":
		return ok(e.containers.Start(ctx, container))
	case "container_stop":
		return ok(e.containers.Stop(ctx, container, time.Duration(intParam(params, "timeout", 10))*time.Second))
	case "container_restart":
		return ok(e.containers.Restart(ctx, container, time.Duration(intParam(params, "timeout", 10))*time.Second))
	case "container_inspect":
		return e.containers.Inspect(ctx, container)
	case "container_logs":
		logs, err := e.containers.Logs(ctx, container, intParam(params, "lines", 100))
		if err != nil {
			return nil, err
		}
		return map[string]any{"logs": logs}, nil
	case "container_network_connect":
		network, _ := params["network"].(string)
		return ok(e.containers.NetworkConnect(ctx, container, network))
	case "container_network_disconnect":
		network, _ := params["network"].(string)
		return ok(e.containers.NetworkDisconnect(ctx, container, network))
	case "container_exec":
		command, _ := params["command"].(string)
		out, err := e.containers.Exec(ctx, container, command)
		if err != nil {
			return nil, err
		}
		return map[string]any{"output": out}, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrToolUnavailable)
}

func (e *LocalExecutor) hostTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if e.host == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrToolUnavailable)
	}
	service, _ := params["service"].(string)
	switch name {
	case "host_service_start":
		return ok(e.host.ServiceStart(ctx, service))
	case "host_service_stop":
		return ok(e.host.ServiceStop(ctx, service))
	case "host_service_restart":
		return ok(e.host.ServiceRestart(ctx, service))
	}
	return nil, fmt.Errorf("%s: %w", name, ErrToolUnavailable)
}

func ok(err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func floatParam(params map[string]any, name string) float64 {
	switch v := params[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
