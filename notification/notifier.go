package notification

import (
	"context"
	"fmt"

	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
)

// Request is what a workflow knows when it wants to notify someone.
type Request struct {
	ProposalID    string
	Channel       Channel
	Recipient     string
	Template      string
	Data          map[string]string
	OptIn         bool
	CorrelationID string
}

// Notifier creates the notification row and enqueues its dispatch job. All
// workflows that notify go through here, so row creation stays out of the
// dispatcher and the persisted recipient is always redacted.
type Notifier struct {
	repo   Repository
	broker queue.Enqueuer
}

func NewNotifier(repo Repository, broker queue.Enqueuer) *Notifier {
	return &Notifier{repo: repo, broker: broker}
}

func (n *Notifier) Send(ctx context.Context, req Request) (Notification, error) {
	created, err := n.repo.Create(ctx, CreateParams{
		ProposalID:      req.ProposalID,
		Channel:         req.Channel,
		Template:        req.Template,
		RecipientMasked: pii.MaskRecipient(req.Recipient),
		RecipientHash:   pii.HashRecipient(req.Recipient),
	})
	if err != nil {
		return Notification{}, err
	}

	job := DispatchJob{
		NotificationID: created.ID,
		Channel:        req.Channel,
		Recipient:      req.Recipient,
		Template:       req.Template,
		Data:           req.Data,
		OptIn:          req.OptIn,
		CorrelationID:  req.CorrelationID,
	}
	if _, err := n.broker.Enqueue(ctx, QueueName, JobDispatch, job, queue.EnqueueOptions{}); err != nil {
		return Notification{}, fmt.Errorf("notification: enqueue dispatch: %w", err)
	}
	return created, nil
}
