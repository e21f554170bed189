// Package authz implements the dual authorization gate evaluated before
// any execution side effect: a permission check on the requester and, for
// delegated requests, a capability check on the acting agent.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/vigil-ops/vigil/pkg/models"
)

// AuthorizationError reports which check failed and why.
type AuthorizationError struct {
	Check  string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed (%s): %s", e.Check, e.Reason)
}

// IsAuthorizationError checks whether err is an authorization error.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// PermissionChecker decides whether a requester may ask for an action.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, requesterID, actionName string) error
}

// CapabilityChecker decides whether a delegated agent may perform an
// action.
type CapabilityChecker interface {
	CheckCapability(ctx context.Context, agentID, actionName string) error
}

// AllowAll is the permissive default for both checks. It is intended to
// be replaced by a policy engine in production deployments.
type AllowAll struct{}

// CheckPermission always allows.
func (AllowAll) CheckPermission(ctx context.Context, requesterID, actionName string) error {
	return nil
}

// CheckCapability always allows.
func (AllowAll) CheckCapability(ctx context.Context, agentID, actionName string) error {
	return nil
}

// Authorizer combines both checks. Either failing blocks execution; the
// order does not matter for correctness.
type Authorizer struct {
	permissions  PermissionChecker
	capabilities CapabilityChecker
}

// New creates an authorizer. Nil checkers default to AllowAll.
func New(permissions PermissionChecker, capabilities CapabilityChecker) *Authorizer {
	if permissions == nil {
		permissions = AllowAll{}
	}
	if capabilities == nil {
		capabilities = AllowAll{}
	}
	return &Authorizer{permissions: permissions, capabilities: capabilities}
}

// Authorize runs the permission check for the proposal's requester and,
// when the request is delegated to an agent, the capability check for
// that agent.
func (a *Authorizer) Authorize(ctx context.Context, p *models.ActionProposal) error {
	if err := a.permissions.CheckPermission(ctx, p.RequesterID, p.ActionName); err != nil {
		return &AuthorizationError{Check: "permission", Reason: err.Error()}
	}
	if p.AgentID != nil {
		if err := a.capabilities.CheckCapability(ctx, *p.AgentID, p.ActionName); err != nil {
			return &AuthorizationError{Check: "capability", Reason: err.Error()}
		}
	}
	return nil
}
