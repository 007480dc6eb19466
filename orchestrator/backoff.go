package orchestrator

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// computeDelay returns the requeue delay for the given attempt number:
// min(base * 2^(attempt-1), cap). A fresh, unrandomized ExponentialBackOff
// is stepped attempt times rather than hand-rolling the power-of-two math,
// so the orchestrator's retry timing and the LLM/hosting-provider clients'
// retry timing are all derived from the same library.
func computeDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2.0
	b.MaxInterval = cap
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
