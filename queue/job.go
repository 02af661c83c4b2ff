package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job is one durable unit of work as handed to a handler.
type Job struct {
	ID          string
	Queue       string
	Name        string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
}

// Handler processes one job. Returning nil acknowledges the job; returning an
// error reschedules it under the backoff policy; returning an error wrapped by
// Unrecoverable parks the job immediately.
type Handler func(ctx context.Context, job Job) error

// EnqueueOptions tunes a single enqueue. Zero values fall back to broker
// defaults.
type EnqueueOptions struct {
	MaxAttempts int
	Delay       time.Duration
}

// Enqueuer is the narrow producer contract workflows depend on, so tests can
// assert on emitted follow-up jobs without a live broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (string, error)
}

// ConsumeOptions tunes one consumer pool.
type ConsumeOptions struct {
	Concurrency int
	// RateEvents/RateWindow bound throughput across the whole pool; zero
	// disables rate limiting.
	RateEvents int
	RateWindow time.Duration
}

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks err as permanent: the broker parks the job instead of
// retrying it.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err carries the permanent-failure marker.
func IsUnrecoverable(err error) bool {
	var ue *unrecoverableError
	return errors.As(err, &ue)
}
