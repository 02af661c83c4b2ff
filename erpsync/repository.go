package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RecordRepository interface {
	Get(ctx context.Context, proposalID string) (Record, error)
	Upsert(ctx context.Context, record Record) error
}

type PGRecordRepository struct {
	pool *pgxpool.Pool
}

func NewRecordRepository(pool *pgxpool.Pool) *PGRecordRepository {
	return &PGRecordRepository{pool: pool}
}

func (r *PGRecordRepository) Get(ctx context.Context, proposalID string) (Record, error) {
	const query = `
SELECT proposal_id, status, COALESCE(external_id, ''), COALESCE(last_sync_at, 'epoch'::timestamptz),
       diagnostics, updated_at
FROM external_sync_records
WHERE proposal_id = $1`

	var (
		rec   Record
		diags []byte
	)
	err := r.pool.QueryRow(ctx, query, proposalID).
		Scan(&rec.ProposalID, &rec.Status, &rec.ExternalID, &rec.LastSyncAt, &diags, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("erpsync: get record %s: %w", proposalID, err)
	}
	if err := json.Unmarshal(diags, &rec.Diagnostics); err != nil {
		return Record{}, fmt.Errorf("erpsync: decode diagnostics: %w", err)
	}
	return rec, nil
}

// Upsert writes the record keyed by proposal id. The keyed upsert is what
// makes concurrent sync attempts for the same proposal converge.
func (r *PGRecordRepository) Upsert(ctx context.Context, record Record) error {
	diags, err := json.Marshal(orEmpty(record.Diagnostics))
	if err != nil {
		return fmt.Errorf("erpsync: marshal diagnostics: %w", err)
	}

	var lastSync any
	if !record.LastSyncAt.IsZero() {
		lastSync = record.LastSyncAt.UTC()
	}

	const query = `
INSERT INTO external_sync_records (proposal_id, status, external_id, last_sync_at, diagnostics, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, now())
ON CONFLICT (proposal_id) DO UPDATE
SET status = EXCLUDED.status,
    external_id = COALESCE(EXCLUDED.external_id, external_sync_records.external_id),
    last_sync_at = COALESCE(EXCLUDED.last_sync_at, external_sync_records.last_sync_at),
    diagnostics = EXCLUDED.diagnostics,
    updated_at = now()`

	if _, err := r.pool.Exec(ctx, query, record.ProposalID, record.Status, record.ExternalID, lastSync, diags); err != nil {
		return fmt.Errorf("erpsync: upsert record %s: %w", record.ProposalID, err)
	}
	return nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
