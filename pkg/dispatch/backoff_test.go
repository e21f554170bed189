package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayBounds(t *testing.T) {
	b := DefaultBackoff()

	// nominal 5s, 10s, 20s, 40s with +/-20% jitter
	bounds := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 4 * time.Second, 6 * time.Second},
		{2, 8 * time.Second, 12 * time.Second},
		{3, 16 * time.Second, 24 * time.Second},
		{4, 32 * time.Second, 48 * time.Second},
	}
	for _, tt := range bounds {
		for i := 0; i < 50; i++ {
			d := b.Delay(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.min, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, d, tt.max, "attempt %d", tt.attempt)
		}
	}
}

func TestBackoffDelayOrderingPreserved(t *testing.T) {
	b := DefaultBackoff()

	// with factor 2 and 20% jitter the jitter bands never overlap, so a
	// later attempt always waits longer than an earlier one
	for i := 0; i < 50; i++ {
		for attempt := 1; attempt < 4; attempt++ {
			assert.Less(t, b.Delay(attempt), b.Delay(attempt+1))
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.Delay(20), b.Cap)
	}
}

func TestBackoffDelayClampsAttempt(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Factor: 2, Cap: 5 * time.Minute}
	assert.Equal(t, 5*time.Second, b.Delay(0))
	assert.Equal(t, 5*time.Second, b.Delay(-3))
}
