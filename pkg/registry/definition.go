// Package registry holds the runtime catalog of executable actions:
// subject-native actions registered at startup plus the general tool
// catalog shipped with the operator. It also validates proposal
// parameters against the cataloged definitions.
package registry

import (
	"context"

	"github.com/vigil-ops/vigil/pkg/models"
)

// ParamType is the declared type of an action parameter.
type ParamType string

// Supported parameter types.
const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
)

// ParamDef declares one action parameter.
type ParamDef struct {
	Type        ParamType
	Description string
	Required    bool
	Default     any
}

// ActionDefinition describes one executable action.
type ActionDefinition struct {
	Name             string
	Description      string
	Parameters       map[string]ParamDef
	ActionType       models.ActionType
	RiskLevel        models.RiskLevel
	RequiresApproval bool
}

// ActionFunc is a subject-native action callback. Subjects register one
// per advertised action at startup; the dispatcher invokes it with the
// proposal's validated parameters.
type ActionFunc func(ctx context.Context, params map[string]any) (map[string]any, error)
