package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the data access contract the workflows share for proposals.
type Repository interface {
	Get(ctx context.Context, proposalID string) (Proposal, error)
	GetIdentity(ctx context.Context, proposalID string) (Identity, error)
	Transition(ctx context.Context, params TransitionParams) error
	History(ctx context.Context, proposalID string) ([]HistoryEntry, error)
}

// TransitionParams enumerates one status change request.
type TransitionParams struct {
	ProposalID string
	To         Status
	Reason     string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, proposalID string) (Proposal, error) {
	const query = `SELECT id, status::text, created_at, updated_at FROM proposals WHERE id = $1`

	var p Proposal
	err := r.pool.QueryRow(ctx, query, proposalID).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, ErrNotFound
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: get %s: %w", proposalID, err)
	}
	return p, nil
}

func (r *PGRepository) GetIdentity(ctx context.Context, proposalID string) (Identity, error) {
	const query = `
SELECT proposal_id, name_enc, cpf_enc, cpf_hash, birth_enc, email_enc, phone_enc, roles
FROM proposal_identities
WHERE proposal_id = $1`

	var id Identity
	err := r.pool.QueryRow(ctx, query, proposalID).
		Scan(&id.ProposalID, &id.NameEnc, &id.CPFEnc, &id.CPFHash, &id.BirthEnc, &id.EmailEnc, &id.PhoneEnc, &id.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("proposal: get identity %s: %w", proposalID, err)
	}
	return id, nil
}

// Transition moves the proposal to params.To, validating the edge under
// FOR UPDATE and appending the history row in the same transaction. A
// transition to the current status is rejected as invalid, which keeps
// history entries unique per state change under concurrent retries.
func (r *PGRepository) Transition(ctx context.Context, params TransitionParams) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx, `SELECT status::text FROM proposals WHERE id = $1 FOR UPDATE`, params.ProposalID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("proposal: lock %s: %w", params.ProposalID, err)
	}

	if !CanTransition(current, params.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, params.To)
	}

	if _, err := tx.Exec(ctx, `
        UPDATE proposals SET status = $1::proposal_status, updated_at = now() WHERE id = $2
    `, params.To, params.ProposalID); err != nil {
		return fmt.Errorf("proposal: update status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO proposal_status_history (proposal_id, from_status, to_status, reason)
        VALUES ($1, $2::proposal_status, $3::proposal_status, $4)
    `, params.ProposalID, current, params.To, params.Reason); err != nil {
		return fmt.Errorf("proposal: insert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("proposal: commit transition: %w", err)
	}
	return nil
}

func (r *PGRepository) History(ctx context.Context, proposalID string) ([]HistoryEntry, error) {
	const query = `
SELECT id, proposal_id, from_status::text, to_status::text, reason, created_at
FROM proposal_status_history
WHERE proposal_id = $1
ORDER BY id`

	rows, err := r.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, 8)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("proposal: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate history: %w", err)
	}
	return entries, nil
}
