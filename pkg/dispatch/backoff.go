package dispatch

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry attempt.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64
}

// DefaultBackoff is the retry policy for failed executions: 5s base,
// doubling, capped at 5 minutes, +/-20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   5 * time.Second,
		Factor: 2,
		Cap:    5 * time.Minute,
		Jitter: 0.2,
	}
}

// Delay returns the wait before retry number attempt (1-based). Delays
// grow strictly with attempt up to the cap; jitter spreads concurrent
// retries without reordering them.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Cap) {
			d = float64(b.Cap)
			break
		}
	}
	if b.Jitter > 0 {
		// spread in [1-j, 1+j)
		d *= 1 - b.Jitter + 2*b.Jitter*rand.Float64()
	}
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	return time.Duration(d)
}
