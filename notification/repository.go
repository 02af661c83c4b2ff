package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, params CreateParams) (Notification, error)
	MarkSent(ctx context.Context, notificationID, providerMessageID string) error
	MarkFailed(ctx context.Context, notificationID string) error
	Get(ctx context.Context, notificationID string) (Notification, error)
}

type CreateParams struct {
	ProposalID      string
	Channel         Channel
	Template        string
	RecipientMasked string
	RecipientHash   string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Notification, error) {
	const query = `
INSERT INTO notifications (proposal_id, channel, template, recipient_masked, recipient_hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, proposal_id, channel, status, template, recipient_masked, recipient_hash,
          COALESCE(provider_message_id, ''), created_at, updated_at`

	var n Notification
	err := r.pool.QueryRow(ctx, query,
		params.ProposalID, params.Channel, params.Template, params.RecipientMasked, params.RecipientHash).
		Scan(&n.ID, &n.ProposalID, &n.Channel, &n.Status, &n.Template,
			&n.RecipientMasked, &n.RecipientHash, &n.ProviderMessageID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: create: %w", err)
	}
	return n, nil
}

func (r *PGRepository) MarkSent(ctx context.Context, notificationID, providerMessageID string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE notifications
        SET status = 'SENT', provider_message_id = $2, updated_at = now()
        WHERE id = $1
    `, notificationID, providerMessageID)
	if err != nil {
		return fmt.Errorf("notification: mark sent %s: %w", notificationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, notificationID string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE notifications SET status = 'FAILED', updated_at = now() WHERE id = $1
    `, notificationID)
	if err != nil {
		return fmt.Errorf("notification: mark failed %s: %w", notificationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, notificationID string) (Notification, error) {
	const query = `
SELECT id, proposal_id, channel, status, template, recipient_masked, recipient_hash,
       COALESCE(provider_message_id, ''), created_at, updated_at
FROM notifications WHERE id = $1`

	var n Notification
	err := r.pool.QueryRow(ctx, query, notificationID).
		Scan(&n.ID, &n.ProposalID, &n.Channel, &n.Status, &n.Template,
			&n.RecipientMasked, &n.RecipientHash, &n.ProviderMessageID, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("notification: get %s: %w", notificationID, err)
	}
	return n, nil
}
