package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Broker is a Postgres-backed durable queue with at-least-once delivery.
// Claims use FOR UPDATE SKIP LOCKED so concurrent workers on the same queue
// never double-claim a pending job.
type Broker struct {
	pool    *pgxpool.Pool
	log     *zap.Logger
	backoff BackoffPolicy

	defaultMaxAttempts int
	pollInterval       time.Duration
	claimTimeout       time.Duration
}

type BrokerConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
	// ClaimTimeout bounds how long a job may sit in 'running' before another
	// worker may reclaim it. It must exceed the longest handler execution.
	ClaimTimeout time.Duration
}

func NewBroker(pool *pgxpool.Pool, log *zap.Logger, cfg BrokerConfig) *Broker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Minute
	}
	return &Broker{
		pool:               pool,
		log:                log,
		backoff:            NewBackoffPolicy(cfg.BackoffBase),
		defaultMaxAttempts: cfg.MaxAttempts,
		pollInterval:       cfg.PollInterval,
		claimTimeout:       cfg.ClaimTimeout,
	}
}

// Enqueue inserts a pending job and returns its id.
func (b *Broker) Enqueue(ctx context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload for %s/%s: %w", queueName, jobName, err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = b.defaultMaxAttempts
	}

	id := uuid.NewString()
	const insertSQL = `
INSERT INTO jobs (id, queue, name, payload, max_attempts, run_at)
VALUES ($1, $2, $3, $4, $5, now() + $6)
`
	if _, err := b.pool.Exec(ctx, insertSQL, id, queueName, jobName, body, maxAttempts, opts.Delay); err != nil {
		return "", fmt.Errorf("queue: enqueue %s/%s: %w", queueName, jobName, err)
	}

	b.log.Info("job enqueued",
		zap.String("queue", queueName),
		zap.String("job", jobName),
		zap.String("job_id", id),
	)
	return id, nil
}

// Consume runs a worker pool against queueName until ctx is cancelled. Each
// worker finishes its in-flight job before returning, so cancellation drains.
func (b *Broker) Consume(ctx context.Context, queueName string, handler Handler, opts ConsumeOptions) error {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	limiter := newLimiter(opts)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			return b.worker(gctx, queueName, handler, limiter)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("queue: consume %s: %w", queueName, err)
	}
	return nil
}

// newLimiter builds the shared pool limiter: at most RateEvents claims per
// RateWindow, with the full window available as initial burst. Nil means
// unthrottled.
func newLimiter(opts ConsumeOptions) *rate.Limiter {
	if opts.RateEvents <= 0 || opts.RateWindow <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(opts.RateEvents)/opts.RateWindow.Seconds()), opts.RateEvents)
}

func (b *Broker) worker(ctx context.Context, queueName string, handler Handler, limiter *rate.Limiter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		job, ok, err := b.claim(ctx, queueName)
		if err != nil {
			b.log.Error("claim failed", zap.String("queue", queueName), zap.Error(err))
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.pollInterval):
			}
			continue
		}

		b.settle(ctx, job, handler(ctx, job))
	}
}

// claim takes the oldest due pending job. A job stuck in 'running' longer
// than the claim timeout is treated as abandoned by a crashed worker and
// becomes claimable again, which is what makes delivery at-least-once across
// hard crashes.
func (b *Broker) claim(ctx context.Context, queueName string) (Job, bool, error) {
	const claimSQL = `
UPDATE jobs
SET status = 'running', attempts = attempts + 1, updated_at = now()
WHERE id = (
    SELECT id FROM jobs
    WHERE queue = $1
      AND run_at <= now()
      AND (status = 'pending' OR (status = 'running' AND updated_at < now() - $2))
    ORDER BY run_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, queue, name, payload, attempts, max_attempts
`
	var job Job
	err := b.pool.QueryRow(ctx, claimSQL, queueName, b.claimTimeout).
		Scan(&job.ID, &job.Queue, &job.Name, &job.Payload, &job.Attempts, &job.MaxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("queue: claim from %s: %w", queueName, err)
	}
	return job, true, nil
}

// settle records the outcome of one execution. Settlement uses a background
// context so a cancelled consumer still releases its in-flight job.
func (b *Broker) settle(ctx context.Context, job Job, handlerErr error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	fields := []zap.Field{
		zap.String("queue", job.Queue),
		zap.String("job", job.Name),
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
	}

	switch {
	case handlerErr == nil:
		if _, err := b.pool.Exec(settleCtx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
			b.log.Error("ack failed", append(fields, zap.Error(err))...)
			return
		}
		b.log.Info("job succeeded", fields...)

	case IsUnrecoverable(handlerErr) || job.Attempts >= job.MaxAttempts:
		const parkSQL = `UPDATE jobs SET status = 'failed', last_error = $2, updated_at = now() WHERE id = $1`
		if _, err := b.pool.Exec(settleCtx, parkSQL, job.ID, handlerErr.Error()); err != nil {
			b.log.Error("park failed", append(fields, zap.Error(err))...)
			return
		}
		b.log.Error("job failed permanently", append(fields, zap.Error(handlerErr))...)

	default:
		delay := b.backoff.Delay(job.Attempts)
		const retrySQL = `
UPDATE jobs SET status = 'pending', run_at = now() + $2, last_error = $3, updated_at = now()
WHERE id = $1`
		if _, err := b.pool.Exec(settleCtx, retrySQL, job.ID, delay, handlerErr.Error()); err != nil {
			b.log.Error("reschedule failed", append(fields, zap.Error(err))...)
			return
		}
		b.log.Warn("job rescheduled",
			append(fields, zap.Duration("delay", delay), zap.Error(handlerErr))...)
	}
}
