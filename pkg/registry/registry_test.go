package registry

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/models"
)

func TestRegistryPreloadsGeneralTools(t *testing.T) {
	r := New()

	def, err := r.Get("container_restart")
	require.NoError(t, err)
	assert.Equal(t, models.RiskLevelMedium, def.RiskLevel)
	assert.Nil(t, r.Callback("container_restart"), "general tools have no subject callback")

	// destructive tools carry the approval flag
	def, err = r.Get("host_kill_process")
	require.NoError(t, err)
	assert.True(t, def.RequiresApproval)
	assert.Equal(t, models.RiskLevelCritical, def.RiskLevel)
}

func TestRegistryUnknownAction(t *testing.T) {
	r := New()
	_, err := r.Get("does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestRegisterSubjectAction(t *testing.T) {
	r := New()

	def := ActionDefinition{
		Name:       "reset_counter",
		ActionType: models.ActionTypeSubject,
		RiskLevel:  models.RiskLevelLow,
	}
	fn := func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"reset": true}, nil
	}
	require.NoError(t, r.RegisterSubjectAction(def, fn))

	got, err := r.Get("reset_counter")
	require.NoError(t, err)
	assert.Equal(t, models.ActionTypeSubject, got.ActionType)
	require.NotNil(t, r.Callback("reset_counter"))

	out, err := r.Callback("reset_counter")(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["reset"])

	r.Unregister("reset_counter")
	_, err = r.Get("reset_counter")
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Nil(t, r.Callback("reset_counter"))
}

func TestRegisterSubjectActionValidation(t *testing.T) {
	r := New()
	err := r.RegisterSubjectAction(ActionDefinition{}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, nil
	})
	assert.Error(t, err)
	assert.Error(t, r.RegisterSubjectAction(ActionDefinition{Name: "x"}, nil))
}

func TestNamesAndListSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSubjectAction(
		ActionDefinition{Name: "aaa_first", ActionType: models.ActionTypeSubject},
		func(ctx context.Context, params map[string]any) (map[string]any, error) { return nil, nil },
	))

	names := r.Names()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "aaa_first")
	assert.Contains(t, names, "wait")

	defs := r.List()
	assert.Len(t, defs, len(names))
	for i, def := range defs {
		assert.Equal(t, names[i], def.Name)
	}
}
