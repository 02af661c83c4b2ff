package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Type classifies a stored file. RG and CNH are the identity documents the
// verification pipeline runs on; the rest are artifacts or attachments.
type Type string

const (
	TypeRG               Type = "RG"
	TypeCNH              Type = "CNH"
	TypeProofOfResidence Type = "PROOF_OF_RESIDENCE"
	TypeContract         Type = "CONTRACT"
	TypeSignatureAudit   Type = "SIGNATURE_AUDIT"
)

// IsIdentity reports whether the verification pipeline is defined for t.
func (t Type) IsIdentity() bool {
	return t == TypeRG || t == TypeCNH
}

// File mirrors the documents row.
type File struct {
	ID          string
	ProposalID  string
	Type        Type
	StorageKey  string
	ContentType string
	SHA256      string
	CreatedAt   time.Time
}

// CreateParams enumerates the fields required to record a new file.
type CreateParams struct {
	ProposalID  string
	Type        Type
	StorageKey  string
	ContentType string
	SHA256      string
}

var ErrNotFound = errors.New("document: not found")

type Repository interface {
	Get(ctx context.Context, documentID string) (File, error)
	Create(ctx context.Context, params CreateParams) (File, error)
	ListByProposal(ctx context.Context, proposalID string) ([]File, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, documentID string) (File, error) {
	const query = `
SELECT id, proposal_id, doc_type, storage_key, content_type, sha256, created_at
FROM documents WHERE id = $1`

	var f File
	err := r.pool.QueryRow(ctx, query, documentID).
		Scan(&f.ID, &f.ProposalID, &f.Type, &f.StorageKey, &f.ContentType, &f.SHA256, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("document: get %s: %w", documentID, err)
	}
	return f, nil
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (File, error) {
	const query = `
INSERT INTO documents (proposal_id, doc_type, storage_key, content_type, sha256)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, proposal_id, doc_type, storage_key, content_type, sha256, created_at`

	var f File
	err := r.pool.QueryRow(ctx, query,
		params.ProposalID, params.Type, params.StorageKey, params.ContentType, params.SHA256).
		Scan(&f.ID, &f.ProposalID, &f.Type, &f.StorageKey, &f.ContentType, &f.SHA256, &f.CreatedAt)
	if err != nil {
		return File{}, fmt.Errorf("document: create for %s: %w", params.ProposalID, err)
	}
	return f, nil
}

func (r *PGRepository) ListByProposal(ctx context.Context, proposalID string) ([]File, error) {
	const query = `
SELECT id, proposal_id, doc_type, storage_key, content_type, sha256, created_at
FROM documents
WHERE proposal_id = $1
ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("document: list for %s: %w", proposalID, err)
	}
	defer rows.Close()

	files := make([]File, 0, 4)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.ProposalID, &f.Type, &f.StorageKey, &f.ContentType, &f.SHA256, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("document: scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate files: %w", err)
	}
	return files, nil
}
