package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/models"
)

func restartDef() ActionDefinition {
	return ActionDefinition{
		Name: "container_restart",
		Parameters: map[string]ParamDef{
			"container": {Type: ParamString, Required: true},
			"timeout":   {Type: ParamInt, Default: 10},
			"force":     {Type: ParamBool},
			"fraction":  {Type: ParamFloat},
		},
		ActionType: models.ActionTypeTool,
		RiskLevel:  models.RiskLevelMedium,
	}
}

func TestValidateParameters(t *testing.T) {
	def := restartDef()

	t.Run("defaults fill in", func(t *testing.T) {
		out, err := ValidateParameters(def, map[string]any{"container": "db-1"})
		require.NoError(t, err)
		assert.Equal(t, "db-1", out["container"])
		assert.Equal(t, 10, out["timeout"])
		_, present := out["force"]
		assert.False(t, present, "optional parameter without default stays absent")
	})

	t.Run("unknown parameter", func(t *testing.T) {
		_, err := ValidateParameters(def, map[string]any{"container": "db-1", "bogus": 1})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("required missing", func(t *testing.T) {
		_, err := ValidateParameters(def, map[string]any{"timeout": 5})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "container")
	})

	t.Run("integral float64 coerces to int", func(t *testing.T) {
		out, err := ValidateParameters(def, map[string]any{"container": "db-1", "timeout": float64(30)})
		require.NoError(t, err)
		assert.Equal(t, 30, out["timeout"])
	})

	t.Run("fractional float64 rejected for int", func(t *testing.T) {
		_, err := ValidateParameters(def, map[string]any{"container": "db-1", "timeout": 1.5})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("int widens to float", func(t *testing.T) {
		out, err := ValidateParameters(def, map[string]any{"container": "db-1", "fraction": 2})
		require.NoError(t, err)
		assert.Equal(t, float64(2), out["fraction"])
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := ValidateParameters(def, map[string]any{"container": 42})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		_, err = ValidateParameters(def, map[string]any{"container": "db-1", "force": "yes"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("input not mutated, validation idempotent", func(t *testing.T) {
		in := map[string]any{"container": "db-1", "timeout": float64(5)}
		first, err := ValidateParameters(def, in)
		require.NoError(t, err)
		assert.Equal(t, float64(5), in["timeout"])

		second, err := ValidateParameters(def, first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
