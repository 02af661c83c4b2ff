package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
	"github.com/felipebianchini2006/sistemacadastro-sub001/storage"
)

// Queue and job names owned by the pipeline.
const (
	QueueName  = "ocr"
	JobProcess = "ocr.process"
)

// ProcessJob is the ocr.process payload.
type ProcessJob struct {
	ProposalID    string `json:"proposal_id"`
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Pipeline cross-checks an uploaded identity document against the proposal's
// on-file identity. One immutable Result row per run; the PENDING_DOCS flip
// happens at most once per proposal.
type Pipeline struct {
	documents document.Repository
	proposals proposal.Repository
	results   ResultRepository
	store     storage.Store
	extractor TextExtractor
	codec     *pii.Codec
	log       *zap.Logger

	nameThreshold float64
}

func NewPipeline(
	documents document.Repository,
	proposals proposal.Repository,
	results ResultRepository,
	store storage.Store,
	extractor TextExtractor,
	codec *pii.Codec,
	log *zap.Logger,
	nameThreshold float64,
) *Pipeline {
	if nameThreshold <= 0 {
		nameThreshold = 0.85
	}
	return &Pipeline{
		documents:     documents,
		proposals:     proposals,
		results:       results,
		store:         store,
		extractor:     extractor,
		codec:         codec,
		log:           log,
		nameThreshold: nameThreshold,
	}
}

// Handle is the queue handler for ocr.process.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job) error {
	var payload ProcessJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Unrecoverable(fmt.Errorf("verification: decode process payload: %w", err))
	}
	return p.Process(ctx, payload)
}

// Process runs the full pipeline for one document.
func (p *Pipeline) Process(ctx context.Context, job ProcessJob) error {
	log := p.log.With(
		zap.String("proposal_id", job.ProposalID),
		zap.String("document_id", job.DocumentID),
		zap.String("correlation_id", job.CorrelationID),
	)
	log.Info("verification started")

	doc, err := p.documents.Get(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return queue.Unrecoverable(fmt.Errorf("verification: document %s missing: %w", job.DocumentID, err))
		}
		return err
	}
	if doc.ProposalID != job.ProposalID {
		// Data integrity violation: correct enqueueing never produces this.
		return queue.Unrecoverable(fmt.Errorf(
			"verification: document %s belongs to proposal %s, not %s",
			doc.ID, doc.ProposalID, job.ProposalID))
	}
	if !doc.Type.IsIdentity() {
		log.Info("verification skipped", zap.String("doc_type", string(doc.Type)))
		return nil
	}

	raw, err := p.store.Download(ctx, doc.StorageKey)
	if err != nil {
		return err
	}
	normalized, err := NormalizeImage(raw, doc.ContentType)
	if err != nil {
		return err
	}

	extraction, err := p.extractor.ExtractText(ctx, normalized)
	if err != nil {
		return err
	}
	parsed := Parse(extraction.RawText)

	identity, err := p.proposals.GetIdentity(ctx, job.ProposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrIdentityNotFound) {
			return queue.Unrecoverable(err)
		}
		return err
	}

	verdict, err := p.compare(identity, parsed)
	if err != nil {
		return err
	}

	result := Result{
		ProposalID:      job.ProposalID,
		DocumentID:      job.DocumentID,
		RawText:         extraction.RawText,
		Layout:          parsed.Layout,
		Fields:          parsed.Fields,
		MatchedKeywords: parsed.MatchedKeywords,
		Confidence:      parsed.Confidence,
		NameSimilarity:  verdict.nameSimilarity,
		CPFMatch:        verdict.cpfMatch,
		Mismatch:        verdict.mismatch,
		MismatchReasons: verdict.reasons,
	}
	if _, err := p.results.Create(ctx, result); err != nil {
		return err
	}

	if !verdict.mismatch {
		log.Info("verification succeeded",
			zap.String("layout", string(parsed.Layout)),
			zap.Float64("name_similarity", verdict.nameSimilarity))
		return nil
	}

	if err := p.flagMismatch(ctx, job.ProposalID, verdict.reasons, log); err != nil {
		return err
	}
	log.Warn("verification found mismatch", zap.Strings("reasons", verdict.reasons))
	return nil
}

type verdict struct {
	nameSimilarity float64
	cpfMatch       bool
	mismatch       bool
	reasons        []string
}

func (p *Pipeline) compare(identity proposal.Identity, parsed Parsed) (verdict, error) {
	var v verdict

	if extractedName, ok := parsed.Fields["name"]; ok && extractedName != "" {
		onFileName, err := p.codec.Decrypt(identity.NameEnc)
		if err != nil {
			return verdict{}, fmt.Errorf("verification: decrypt on-file name: %w", err)
		}
		v.nameSimilarity = Similarity(extractedName, onFileName)
		if v.nameSimilarity < p.nameThreshold {
			v.mismatch = true
			v.reasons = append(v.reasons, fmt.Sprintf(
				"extracted name %q does not match the registered name (similarity %.2f)",
				extractedName, v.nameSimilarity))
		}
	}

	if extractedCPF, ok := parsed.Fields["cpf"]; ok && extractedCPF != "" {
		v.cpfMatch = pii.HashDigits(extractedCPF) == identity.CPFHash
		if !v.cpfMatch {
			v.mismatch = true
			v.reasons = append(v.reasons, "document CPF does not match the registered CPF")
		}
	}

	return v, nil
}

// flagMismatch flips the proposal to PENDING_DOCS when it is still in the
// pre-approval window. Already PENDING_DOCS, or anything later, is a no-op so
// re-processing never duplicates the transition.
func (p *Pipeline) flagMismatch(ctx context.Context, proposalID string, reasons []string, log *zap.Logger) error {
	current, err := p.proposals.Get(ctx, proposalID)
	if err != nil {
		return err
	}

	switch current.Status {
	case proposal.StatusSubmitted, proposal.StatusUnderReview:
	case proposal.StatusPendingDocs:
		log.Info("proposal already pending docs")
		return nil
	default:
		log.Info("proposal past review, mismatch recorded only",
			zap.String("status", string(current.Status)))
		return nil
	}

	err = p.proposals.Transition(ctx, proposal.TransitionParams{
		ProposalID: proposalID,
		To:         proposal.StatusPendingDocs,
		Reason:     fmt.Sprintf("document mismatch: %s", joinReasons(reasons)),
	})
	if err != nil && !errors.Is(err, proposal.ErrInvalidTransition) {
		return err
	}
	// A concurrent flip to PENDING_DOCS loses the transition race; that is
	// the no-op the contract asks for.
	return nil
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
