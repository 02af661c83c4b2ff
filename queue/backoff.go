package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy yields the delay before the next attempt of a job that has
// already failed `attempts` times. Exponential with factor 2, no jitter, so
// retry schedules are predictable in tests and operator tooling.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func NewBackoffPolicy(base time.Duration) BackoffPolicy {
	return BackoffPolicy{Base: base, Max: 30 * time.Minute}
}

func (p BackoffPolicy) Delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}
