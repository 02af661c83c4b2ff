package signature

import (
	"errors"
	"time"
)

// Queues and job names of the three-stage chain. pdf.generate runs on the
// documents queue; the two signature stages share the signatures queue.
const (
	DocumentQueueName  = "documents"
	SignatureQueueName = "signatures"

	JobGeneratePDF    = "pdf.generate"
	JobCreateEnvelope = "signature.create"
	JobAuditTrail     = "signature.audit"
)

type EnvelopeStatus string

const (
	EnvelopeSent   EnvelopeStatus = "SENT"
	EnvelopeSigned EnvelopeStatus = "SIGNED"
)

// Envelope mirrors the signature_envelopes row: one per proposal contract.
type Envelope struct {
	ID             string
	ProposalID     string
	EnvelopeID     string
	Status         EnvelopeStatus
	SignerName     string
	SignerID       string
	Deadline       time.Time
	SignLink       string
	OriginalSHA256 string
	SignedSHA256   string
	CertSHA256     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GenerateJob is the pdf.generate payload, the head of the chain.
type GenerateJob struct {
	ProposalID    string `json:"proposal_id"`
	EvidenceAuth  string `json:"evidence_auth,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// CreateJob is the signature.create payload, emitted by stage 1.
type CreateJob struct {
	ProposalID    string `json:"proposal_id"`
	DocumentID    string `json:"document_id"`
	EvidenceAuth  string `json:"evidence_auth,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// AuditJob is the signature.audit payload, emitted once the provider reports
// the envelope fully signed.
type AuditJob struct {
	ProposalID      string `json:"proposal_id"`
	SignerMethod    string `json:"signer_method,omitempty"`
	SignerIP        string `json:"signer_ip,omitempty"`
	SignerUserAgent string `json:"signer_user_agent,omitempty"`
	SignerGeo       string `json:"signer_geo,omitempty"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

var (
	// ErrEnvelopeNotFound is returned when no envelope row matches.
	ErrEnvelopeNotFound = errors.New("signature: envelope not found")
	// ErrMissingProviderID signals the provider answered without the id the
	// next step needs; the whole stage replays.
	ErrMissingProviderID = errors.New("signature: provider response missing id")
)
