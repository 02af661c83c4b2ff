package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is one immutable OcrResult row. Many may exist per proposal, one per
// processed document run.
type Result struct {
	ID              string
	ProposalID      string
	DocumentID      string
	RawText         string
	Layout          DocLayout
	Fields          map[string]string
	MatchedKeywords []string
	Confidence      float64
	NameSimilarity  float64
	CPFMatch        bool
	Mismatch        bool
	MismatchReasons []string
	CreatedAt       time.Time
}

type ResultRepository interface {
	Create(ctx context.Context, result Result) (Result, error)
	ListByProposal(ctx context.Context, proposalID string) ([]Result, error)
}

type PGResultRepository struct {
	pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *PGResultRepository {
	return &PGResultRepository{pool: pool}
}

func (r *PGResultRepository) Create(ctx context.Context, result Result) (Result, error) {
	fields, err := json.Marshal(result.Fields)
	if err != nil {
		return Result{}, fmt.Errorf("verification: marshal fields: %w", err)
	}

	const query = `
INSERT INTO ocr_results
    (proposal_id, document_id, raw_text, doc_type, fields, matched_keywords,
     confidence, name_similarity, cpf_match, mismatch, mismatch_reasons)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at`

	err = r.pool.QueryRow(ctx, query,
		result.ProposalID, result.DocumentID, result.RawText, result.Layout, fields,
		result.MatchedKeywords, result.Confidence, result.NameSimilarity,
		result.CPFMatch, result.Mismatch, result.MismatchReasons).
		Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return Result{}, fmt.Errorf("verification: insert result: %w", err)
	}
	return result, nil
}

func (r *PGResultRepository) ListByProposal(ctx context.Context, proposalID string) ([]Result, error) {
	const query = `
SELECT id, proposal_id, document_id, raw_text, doc_type, fields, matched_keywords,
       confidence, name_similarity, cpf_match, mismatch, mismatch_reasons, created_at
FROM ocr_results
WHERE proposal_id = $1
ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("verification: list results: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, 4)
	for rows.Next() {
		var (
			res    Result
			fields []byte
		)
		if err := rows.Scan(&res.ID, &res.ProposalID, &res.DocumentID, &res.RawText, &res.Layout,
			&fields, &res.MatchedKeywords, &res.Confidence, &res.NameSimilarity,
			&res.CPFMatch, &res.Mismatch, &res.MismatchReasons, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("verification: scan result: %w", err)
		}
		if err := json.Unmarshal(fields, &res.Fields); err != nil {
			return nil, fmt.Errorf("verification: decode fields: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verification: iterate results: %w", err)
	}
	return results, nil
}
