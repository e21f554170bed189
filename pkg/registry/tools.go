package registry

import "github.com/vigil-ops/vigil/pkg/models"

// GeneralTools returns the fixed tool catalog shipped with the operator.
// Risk levels and approval flags here are the policy defaults; the
// dispatcher may raise the effective approval requirement from session
// risk.
func GeneralTools() []ActionDefinition {
	return []ActionDefinition{
		{
			Name:        "wait",
			Description: "Pause for a number of seconds before the next action",
			Parameters: map[string]ParamDef{
				"seconds": {Type: ParamFloat, Description: "Seconds to wait", Required: true},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelLow,
		},
		{
			Name:        "log_message",
			Description: "Write a message to the operator log",
			Parameters: map[string]ParamDef{
				"message": {Type: ParamString, Description: "Message to log", Required: true},
				"level":   {Type: ParamString, Description: "Log level", Default: "info"},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelLow,
		},
		{
			Name:        "container_start",
			Description: "Start a stopped container",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelMedium,
		},
		{
			Name:        "container_stop",
			Description: "Stop a running container",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
				"timeout":   {Type: ParamInt, Description: "Seconds before force kill", Default: 10},
			},
			ActionType:       models.ActionTypeTool,
			RiskLevel:        models.RiskLevelHigh,
			RequiresApproval: true,
		},
		{
			Name:        "container_restart",
			Description: "Restart a container",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
				"timeout":   {Type: ParamInt, Description: "Seconds before force kill", Default: 10},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelMedium,
		},
		{
			Name:        "container_inspect",
			Description: "Inspect container state and configuration",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelLow,
		},
		{
			Name:        "container_logs",
			Description: "Fetch recent container log lines",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
				"lines":     {Type: ParamInt, Description: "Number of lines from the tail", Default: 100},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelLow,
		},
		{
			Name:        "container_network_connect",
			Description: "Connect a container to a network",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
				"network":   {Type: ParamString, Description: "Network name", Required: true},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelMedium,
		},
		{
			Name:        "container_network_disconnect",
			Description: "Disconnect a container from a network",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
				"network":   {Type: ParamString, Description: "Network name", Required: true},
			},
			ActionType:       models.ActionTypeTool,
			RiskLevel:        models.RiskLevelHigh,
			RequiresApproval: true,
		},
		{
			Name:        "container_exec",
			Description: "Execute a command inside a container",
			Parameters: map[string]ParamDef{
				"container": {Type: ParamString, Description: "Container name or ID", Required: true},
				"command":   {Type: ParamString, Description: "Command to run", Required: true},
			},
			ActionType:       models.ActionTypeTool,
			RiskLevel:        models.RiskLevelHigh,
			RequiresApproval: true,
		},
		{
			Name:        "host_service_start",
			Description: "Start a host service",
			Parameters: map[string]ParamDef{
				"service": {Type: ParamString, Description: "Service name", Required: true},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelMedium,
		},
		{
			Name:        "host_service_stop",
			Description: "Stop a host service",
			Parameters: map[string]ParamDef{
				"service": {Type: ParamString, Description: "Service name", Required: true},
			},
			ActionType:       models.ActionTypeTool,
			RiskLevel:        models.RiskLevelHigh,
			RequiresApproval: true,
		},
		{
			Name:        "host_service_restart",
			Description: "Restart a host service",
			Parameters: map[string]ParamDef{
				"service": {Type: ParamString, Description: "Service name", Required: true},
			},
			ActionType: models.ActionTypeTool,
			RiskLevel:  models.RiskLevelMedium,
		},
		{
			Name:        "host_kill_process",
			Description: "Kill a host process with SIGTERM, escalating to SIGKILL after a timeout. Init and kernel-thread PIDs are rejected.",
			Parameters: map[string]ParamDef{
				"pid":     {Type: ParamInt, Description: "Process ID", Required: true},
				"timeout": {Type: ParamInt, Description: "Seconds to wait before SIGKILL", Default: 10},
			},
			ActionType:       models.ActionTypeTool,
			RiskLevel:        models.RiskLevelCritical,
			RequiresApproval: true,
		},
		{
			Name:        "execute_script",
			Description: "Run a script in an isolated sandbox: no network, resource caps, read-only filesystem, non-root user, hard timeout. Content is validated before running.",
			Parameters: map[string]ParamDef{
				"content":         {Type: ParamString, Description: "Script content", Required: true},
				"timeout_seconds": {Type: ParamInt, Description: "Hard timeout, capped at 300", Default: 60},
			},
			ActionType:       models.ActionTypeTool,
			RiskLevel:        models.RiskLevelCritical,
			RequiresApproval: true,
		},
	}
}
