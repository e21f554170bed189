package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/models"
)

type denyPermissions struct{}

func (denyPermissions) CheckPermission(ctx context.Context, requesterID, actionName string) error {
	return errors.New("requester " + requesterID + " is not allowed " + actionName)
}

type denyCapabilities struct{}

func (denyCapabilities) CheckCapability(ctx context.Context, agentID, actionName string) error {
	return errors.New("agent " + agentID + " lacks capability " + actionName)
}

func proposalFrom(requester string, agentID *string) *models.ActionProposal {
	return &models.ActionProposal{
		ActionName:    "container_restart",
		RequesterID:   requester,
		RequesterType: models.RequesterTypeSystem,
		AgentID:       agentID,
	}
}

func TestAuthorizeDefaultsAllow(t *testing.T) {
	a := New(nil, nil)
	agent := "vigil-agent"
	assert.NoError(t, a.Authorize(context.Background(), proposalFrom("operator", &agent)))
}

func TestAuthorizePermissionDenied(t *testing.T) {
	a := New(denyPermissions{}, nil)
	err := a.Authorize(context.Background(), proposalFrom("mallory", nil))
	require.Error(t, err)
	assert.True(t, IsAuthorizationError(err))

	var ae *AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "permission", ae.Check)
	assert.Contains(t, ae.Reason, "mallory")
}

func TestAuthorizeCapabilityOnlyForDelegated(t *testing.T) {
	a := New(nil, denyCapabilities{})

	// no agent: capability check never runs
	assert.NoError(t, a.Authorize(context.Background(), proposalFrom("operator", nil)))

	agent := "vigil-agent"
	err := a.Authorize(context.Background(), proposalFrom("operator", &agent))
	require.Error(t, err)

	var ae *AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "capability", ae.Check)
}

func TestIsAuthorizationError(t *testing.T) {
	assert.False(t, IsAuthorizationError(errors.New("plain")))
	assert.False(t, IsAuthorizationError(nil))
	assert.True(t, IsAuthorizationError(&AuthorizationError{Check: "permission", Reason: "no"}))
}
