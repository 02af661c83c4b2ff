package signature

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, env Envelope) (Envelope, error)
	GetByProposal(ctx context.Context, proposalID string) (Envelope, error)
	GetByEnvelopeID(ctx context.Context, envelopeID string) (Envelope, error)
	MarkSigned(ctx context.Context, envelopeID, signedSHA256, certSHA256 string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const envelopeColumns = `
id, proposal_id, envelope_id, status, signer_name, signer_id, deadline, sign_link,
original_sha256, COALESCE(signed_sha256, ''), COALESCE(cert_sha256, ''), created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, env Envelope) (Envelope, error) {
	const query = `
INSERT INTO signature_envelopes
    (proposal_id, envelope_id, status, signer_name, signer_id, deadline, sign_link, original_sha256)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		env.ProposalID, env.EnvelopeID, env.Status, env.SignerName, env.SignerID,
		env.Deadline, env.SignLink, env.OriginalSHA256).
		Scan(&env.ID, &env.CreatedAt, &env.UpdatedAt)
	if err != nil {
		return Envelope{}, fmt.Errorf("signature: insert envelope for %s: %w", env.ProposalID, err)
	}
	return env, nil
}

func (r *PGRepository) GetByProposal(ctx context.Context, proposalID string) (Envelope, error) {
	return r.get(ctx, `WHERE proposal_id = $1`, proposalID)
}

func (r *PGRepository) GetByEnvelopeID(ctx context.Context, envelopeID string) (Envelope, error) {
	return r.get(ctx, `WHERE envelope_id = $1`, envelopeID)
}

func (r *PGRepository) get(ctx context.Context, where, arg string) (Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM signature_envelopes ` + where

	var env Envelope
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&env.ID, &env.ProposalID, &env.EnvelopeID, &env.Status, &env.SignerName, &env.SignerID,
		&env.Deadline, &env.SignLink, &env.OriginalSHA256, &env.SignedSHA256, &env.CertSHA256,
		&env.CreatedAt, &env.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Envelope{}, ErrEnvelopeNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("signature: get envelope: %w", err)
	}
	return env, nil
}

func (r *PGRepository) MarkSigned(ctx context.Context, envelopeID, signedSHA256, certSHA256 string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE signature_envelopes
        SET status = 'SIGNED', signed_sha256 = $2, cert_sha256 = $3, updated_at = now()
        WHERE envelope_id = $1
    `, envelopeID, signedSHA256, certSHA256)
	if err != nil {
		return fmt.Errorf("signature: mark signed %s: %w", envelopeID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}
