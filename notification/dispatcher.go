package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
)

// Dispatcher consumes notify.dispatch jobs. It owns every write to the
// notifications table: exactly one terminal update per outcome, no update on
// a retryable failure so the row stays PENDING across retries.
type Dispatcher struct {
	repo    Repository
	senders map[Channel]Sender
	log     *zap.Logger
}

func NewDispatcher(repo Repository, senders map[Channel]Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, senders: senders, log: log}
}

// Handle is the queue handler for notify.dispatch.
func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	var payload DispatchJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Unrecoverable(fmt.Errorf("notification: decode dispatch payload: %w", err))
	}
	return d.Dispatch(ctx, payload)
}

// Dispatch sends one notification, idempotent per notification id.
func (d *Dispatcher) Dispatch(ctx context.Context, job DispatchJob) error {
	log := d.log.With(
		zap.String("notification_id", job.NotificationID),
		zap.String("channel", string(job.Channel)),
		zap.String("template", job.Template),
		zap.String("correlation_id", job.CorrelationID),
	)
	log.Info("dispatch started")

	sender, ok := d.senders[job.Channel]
	if !ok {
		return queue.Unrecoverable(fmt.Errorf("notification: no sender for channel %s", job.Channel))
	}

	subject, body, err := RenderTemplate(job.Template, job.Data)
	if err != nil {
		return queue.Unrecoverable(err)
	}

	providerID, err := sender.Send(ctx, Message{
		Recipient: job.Recipient,
		Subject:   subject,
		Body:      body,
		Template:  job.Template,
		OptIn:     job.OptIn,
	})
	if err != nil {
		if isPermanent(err) {
			if markErr := d.repo.MarkFailed(ctx, job.NotificationID); markErr != nil {
				// Retry so the FAILED write is not lost; the resend is
				// harmless relative to the already-failed provider call.
				return fmt.Errorf("notification: mark failed: %w", markErr)
			}
			log.Error("dispatch failed permanently", zap.Error(err))
			return queue.Unrecoverable(err)
		}
		log.Warn("dispatch failed, will retry", zap.Error(err))
		return err
	}

	if err := d.repo.MarkSent(ctx, job.NotificationID, providerID); err != nil {
		return fmt.Errorf("notification: mark sent: %w", err)
	}
	log.Info("dispatch succeeded", zap.String("provider_message_id", providerID))
	return nil
}

// permanentStatuses is the named allowlist of provider responses that never
// succeed on retry.
var permanentStatuses = map[int]bool{
	400: true,
	401: true,
	403: true,
	404: true,
}

func isPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) && permanentStatuses[pe.StatusCode] {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "opt-in")
}
