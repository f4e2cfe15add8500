package jobs

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newRetryBackoff returns the wait schedule between extraction
// attempts: 2s, 4s, 8s, ... capped at 30s, no jitter so the waits are
// reportable to clients before they happen.
func newRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// permanent marks an error that must not be retried.
func permanent(err error) error {
	return backoff.Permanent(err)
}

// isPermanent reports whether err was marked permanent, unwrapping it.
func isPermanent(err error) (error, bool) {
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return pe.Unwrap(), true
	}
	return err, false
}
