package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-ops/vigil/pkg/store"
)

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("daemon crashed")))
	assert.Equal(t, 1, exitCode(usageErrorf("accepts 1 arg(s), received 0")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("ticket 9: %w", store.ErrNotFound)))
}
